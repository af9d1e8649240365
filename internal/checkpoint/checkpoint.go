// Package checkpoint implements CheckpointStore (spec §4.7, §8): named
// snapshots of a session's SharedMemory and per-node conversation cursors,
// taken at node boundaries or on explicit request, and restorable to
// byte-equal state.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/flowgraph-labs/agentrt/internal/conversation"
	"github.com/flowgraph-labs/agentrt/internal/memory"
	"github.com/flowgraph-labs/agentrt/internal/rterr"
	"github.com/flowgraph-labs/agentrt/internal/storage/dirstore"
)

// Checkpoint is one named snapshot: SharedMemory plus every node's cursor
// as of the moment it was taken.
type Checkpoint struct {
	Name      string                       `json:"name"`
	CreatedAt time.Time                    `json:"createdAt"`
	Memory    map[string]any               `json:"memory"`
	Cursors   map[string]conversation.Cursor `json:"cursors"` // nodeID -> cursor
}

// Store manages named checkpoints for one session, rooted at its
// checkpoints/ subdirectory.
type Store struct {
	ds *dirstore.DirStore
}

// New returns a Store rooted at checkpointsDir (typically
// sessionstore.Store.CheckpointDir's parent, i.e. "checkpoints/").
func New(checkpointsDir string) *Store {
	return &Store{ds: dirstore.NewDirStore(checkpointsDir, "checkpoint")}
}

// Save snapshots mem and cursors under name, atomically.
func (s *Store) Save(name string, mem *memory.SharedMemory, cursors map[string]conversation.Cursor) error {
	if err := s.ds.EnsureDir(name); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", name, err)
	}
	cp := Checkpoint{
		Name:      name,
		CreatedAt: time.Now(),
		Memory:    mem.Snapshot(),
		Cursors:   cursors,
	}
	if err := s.ds.WriteMeta(name, &cp); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", name, err)
	}
	return nil
}

// Load reads back a previously saved checkpoint.
func (s *Store) Load(name string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := s.ds.ReadMeta(name, &cp); err != nil {
		return nil, fmt.Errorf("%w: checkpoint %s: %v", rterr.ErrCorruptState, name, err)
	}
	return &cp, nil
}

// List returns the names of all checkpoints, unordered.
func (s *Store) List() ([]string, error) {
	return s.ds.ListDirs()
}

// Delete removes a named checkpoint.
func (s *Store) Delete(name string) error {
	return s.ds.RemoveDir(name)
}

// Restore applies cp back onto mem (replacing its contents) and returns its
// cursors for the caller (internal/stream) to rewrite into each node's
// conversation.Store, completing the round-trip law "Checkpoint ->
// RestoreCheckpoint restores SharedMemory and conversation cursor to
// byte-equal state" (spec §8).
func Restore(cp *Checkpoint, mem *memory.SharedMemory) map[string]conversation.Cursor {
	mem.Replace(cp.Memory)
	return cp.Cursors
}

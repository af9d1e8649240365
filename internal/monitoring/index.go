package monitoring

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/flowgraph-labs/agentrt/internal/events"
)

// VerdictHistory is what a Health Judge needs to decide severity: how many
// turns a node has run, and how many of the most recent ones came back
// anything other than ACCEPT.
type VerdictHistory struct {
	RecentVerdicts       []string
	TotalStepsChecked    int
	StepsSinceLastAccept int
}

const recentVerdictsLimit = 20

// Index is a secondary, non-authoritative store over judge verdicts and
// filed tickets, backed by sqlite (grounded on the reference pack's
// modernc.org/sqlite-backed store: single connection, SetMaxOpenConns(1),
// so concurrent writers serialize instead of racing SQLITE_BUSY). The
// filesystem conversation log remains the source of truth; Index exists so
// a Health Judge node can answer "stepsSinceLastAccept" with one indexed
// query instead of re-reading and re-parsing a worker's whole history.
type Index struct {
	db          *sql.DB
	bus         *events.Bus
	unsubscribe func()
}

// OpenIndex opens (or creates) the sqlite file at dbPath and subscribes to
// bus for GOAL_PROGRESS (per-turn verdicts) and WORKER_ESCALATION_TICKET
// (filed tickets) events.
func OpenIndex(dbPath string, bus *events.Bus) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("monitoring: open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, bus: bus}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}

	id, ch := bus.Subscribe(events.Filter{})
	idx.unsubscribe = func() { bus.Unsubscribe(id) }
	go idx.consume(ch)

	return idx, nil
}

func (idx *Index) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS verdicts (
			graph_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			verdict TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_graph_node ON verdicts(graph_id, node_id, ts)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id TEXT PRIMARY KEY,
			worker_graph_id TEXT NOT NULL,
			worker_node_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.Exec(stmt); err != nil {
			return fmt.Errorf("monitoring: init index: %w", err)
		}
	}
	return nil
}

func (idx *Index) consume(ch <-chan events.AgentEvent) {
	for e := range ch {
		switch e.Type {
		case events.GoalProgress:
			idx.recordVerdict(e)
		case events.WorkerEscalationTicket:
			idx.recordTicketFromEvent(e)
		}
	}
}

func (idx *Index) recordVerdict(e events.AgentEvent) {
	verdict, _ := e.Payload["verdict"].(string)
	if verdict == "" || e.GraphID == "" || e.NodeID == "" {
		return
	}
	iteration, _ := e.Payload["iteration"].(int)
	_, _ = idx.db.Exec(
		`INSERT INTO verdicts(graph_id, node_id, iteration, verdict, ts) VALUES (?, ?, ?, ?, ?)`,
		e.GraphID, e.NodeID, iteration, verdict, e.Timestamp.UnixNano(),
	)
}

func (idx *Index) recordTicketFromEvent(e events.AgentEvent) {
	raw, ok := e.Payload["ticket"]
	if !ok {
		return
	}
	ticket, ok := raw.(*EscalationTicket)
	if !ok {
		return
	}
	if err := idx.SaveTicket(ticket); err != nil {
		return
	}
}

// VerdictsFor returns the verdict history an emit_escalation_ticket call
// needs for (graphID, nodeID): up to the 20 most recent verdicts, newest
// first; how many of those came after the most recent ACCEPT among them;
// and the total turn count observed.
func (idx *Index) VerdictsFor(graphID, nodeID string) (VerdictHistory, error) {
	rows, err := idx.db.Query(
		`SELECT verdict FROM verdicts WHERE graph_id = ? AND node_id = ? ORDER BY ts DESC LIMIT ?`,
		graphID, nodeID, recentVerdictsLimit,
	)
	if err != nil {
		return VerdictHistory{}, fmt.Errorf("monitoring: query verdicts: %w", err)
	}
	defer rows.Close()

	var recent []string
	stepsSinceAccept := 0
	seenAccept := false
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return VerdictHistory{}, fmt.Errorf("monitoring: scan verdict: %w", err)
		}
		recent = append(recent, v)
		if !seenAccept {
			if v == "ACCEPT" {
				seenAccept = true
			} else {
				stepsSinceAccept++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return VerdictHistory{}, fmt.Errorf("monitoring: iterate verdicts: %w", err)
	}

	var total int
	if err := idx.db.QueryRow(
		`SELECT COUNT(*) FROM verdicts WHERE graph_id = ? AND node_id = ?`, graphID, nodeID,
	).Scan(&total); err != nil {
		return VerdictHistory{}, fmt.Errorf("monitoring: count verdicts: %w", err)
	}

	return VerdictHistory{RecentVerdicts: recent, TotalStepsChecked: total, StepsSinceLastAccept: stepsSinceAccept}, nil
}

// SaveTicket persists a filed ticket.
func (idx *Index) SaveTicket(t *EscalationTicket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("monitoring: marshal ticket: %w", err)
	}
	_, err = idx.db.Exec(
		`INSERT OR REPLACE INTO tickets(ticket_id, worker_graph_id, worker_node_id, severity, created_at, data) VALUES (?, ?, ?, ?, ?, ?)`,
		t.TicketID, t.WorkerGraphID, t.WorkerNodeID, string(t.Severity), t.CreatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("monitoring: save ticket: %w", err)
	}
	return nil
}

// Ticket looks up a previously filed ticket by ID.
func (idx *Index) Ticket(ticketID string) (*EscalationTicket, error) {
	var data string
	err := idx.db.QueryRow(`SELECT data FROM tickets WHERE ticket_id = ?`, ticketID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("monitoring: ticket %s not found", ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("monitoring: load ticket: %w", err)
	}
	var t EscalationTicket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("monitoring: unmarshal ticket: %w", err)
	}
	return &t, nil
}

// Close unsubscribes from the bus and closes the underlying database.
func (idx *Index) Close() error {
	if idx.unsubscribe != nil {
		idx.unsubscribe()
	}
	return idx.db.Close()
}

// Package creds resolves named credentials for the runtime's external
// collaborators (LLM providers, MCP servers, webhook secrets). Values live
// as environment variables, loaded from a dotenv file at startup; a value
// may be an ENC[age:...] blob, decrypted on read with an age identity kept
// at a fixed key path. Reads (and the identity's lazy load) are serialized
// per credential name by a per-name mutex, per the runtime's shared-resource
// policy for the credential store.
package creds

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"filippo.io/age"
)

// ErrCredentialUnavailable is returned when a named credential has no
// resolvable value. Callers at a stream's start surface this as
// EXECUTION_FAILED plus a setup-interaction signal.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// Store resolves credentials from the process environment, decrypting
// age-encrypted values on demand.
type Store struct {
	agePath    string
	dotenvPath string

	identMu  sync.Mutex
	identity *age.X25519Identity

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Store that decrypts with the identity at agePath and writes
// new plaintext/encrypted entries to the dotenv file at dotenvPath.
func New(agePath, dotenvPath string) *Store {
	return &Store{
		agePath:    agePath,
		dotenvPath: dotenvPath,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Get resolves name (optionally scoped to account, e.g. a specific API key
// among several for the same provider) to its secret value. name/account
// are joined and upper-cased to form the environment variable looked up,
// e.g. Get("anthropic", "") -> ANTHROPIC, Get("anthropic", "work") ->
// ANTHROPIC_WORK. If the resolved value is an ENC[age:...] blob it is
// decrypted with the Store's identity, loaded lazily on first use.
func (s *Store) Get(name, account string) (string, error) {
	mu := s.providerLock(name)
	mu.Lock()
	defer mu.Unlock()

	key := envKey(name, account)
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: %s", ErrCredentialUnavailable, key)
	}
	if !isEncryptedValue(val) {
		return val, nil
	}

	id, err := s.loadIdentity()
	if err != nil {
		return "", fmt.Errorf("%w: load age identity: %v", ErrCredentialUnavailable, err)
	}
	plain, err := decryptValue(val, id)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt %s: %v", ErrCredentialUnavailable, key, err)
	}
	return plain, nil
}

// Set encrypts value with the Store's identity's recipient and persists it
// as an ENC[age:...] blob under name/account in the dotenv file, also
// setting it in the current process environment. Writes share the same
// per-name mutex as reads.
func (s *Store) Set(name, account, value string) error {
	mu := s.providerLock(name)
	mu.Lock()
	defer mu.Unlock()

	id, err := s.loadIdentity()
	if err != nil {
		return fmt.Errorf("load age identity: %w", err)
	}

	blob, err := encryptValue(value, id.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	key := envKey(name, account)
	if err := setEntry(s.dotenvPath, key, blob); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	os.Setenv(key, blob)
	return nil
}

func (s *Store) loadIdentity() (*age.X25519Identity, error) {
	s.identMu.Lock()
	defer s.identMu.Unlock()

	if s.identity != nil {
		return s.identity, nil
	}
	if err := GenerateIdentity(s.agePath); err != nil {
		return nil, err
	}
	id, err := LoadIdentity(s.agePath)
	if err != nil {
		return nil, err
	}
	s.identity = id
	return id, nil
}

func (s *Store) providerLock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	return mu
}

func envKey(name, account string) string {
	key := name
	if account != "" {
		key = name + "_" + account
	}
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

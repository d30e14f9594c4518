package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/galdor/go-raft/pkg/raft"
)

// Store is the state machine driven by the raft engine: it never talks
// to the log, the transport or the role state machine directly, only
// through raft.StateMachine's three methods.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewStore() *Store {
	return &Store{entries: make(map[string]string)}
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, found := s.entries[key]
	return value, found
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// ApplyCommand implements raft.StateMachine. It is called once per
// committed command, in log order, from the engine's single-writer
// executor: no locking is required here for ordering, only for
// concurrent reads from the API server.
func (s *Store) ApplyCommand(command string, args []byte) ([]byte, error) {
	switch command {
	case "get":
		var op OpGet
		if err := op.Decode(args); err != nil {
			return nil, fmt.Errorf("cannot decode get arguments: %w", err)
		}

		value, found := s.Get(op.Key)
		if !found {
			return nil, fmt.Errorf("unknown key %q", op.Key)
		}
		return []byte(value), nil

	case "put":
		var op OpPut
		if err := op.Decode(args); err != nil {
			return nil, fmt.Errorf("cannot decode put arguments: %w", err)
		}

		s.mu.Lock()
		s.entries[op.Key] = op.Value
		s.mu.Unlock()
		return nil, nil

	case "delete":
		var op OpDelete
		if err := op.Decode(args); err != nil {
			return nil, fmt.Errorf("cannot decode delete arguments: %w", err)
		}

		s.mu.Lock()
		delete(s.entries, op.Key)
		s.mu.Unlock()
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

// TakeSnapshot and InstallSnapshot back the log compaction pipeline
// (pkg/raft/snapshot.go). The payload format is opaque to the engine, so a
// plain JSON map is enough; nothing in this repository parses it outside
// this file.
func (s *Store) TakeSnapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return json.Marshal(s.entries)
}

func (s *Store) InstallSnapshot(payload []byte) error {
	entries := make(map[string]string)
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("cannot decode snapshot payload: %w", err)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	return nil
}

var _ raft.StateMachine = (*Store)(nil)

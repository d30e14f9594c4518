package session

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable half of session bookkeeping: when a Store is
// configured, Manager writes a row when a session opens and deletes it when
// the session closes. Nothing in this package reads the rows back, so
// sessions are not restored after a client restart. Persistence is never a
// hard requirement of the manager itself.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the session directory table if it does not already
// exist. Called once at startup by whatever process owns the pool.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS raft_sessions (
			id               text PRIMARY KEY,
			name             text NOT NULL,
			state_machine    text NOT NULL,
			timeout_ms       bigint NOT NULL,
			command_sequence bigint NOT NULL DEFAULT 0,
			event_index      bigint NOT NULL DEFAULT 0,
			opened_at        timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("cannot create raft_sessions table: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, st *state) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raft_sessions (id, name, state_machine, timeout_ms, command_sequence, event_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			command_sequence = excluded.command_sequence,
			event_index = excluded.event_index
	`, string(st.id), st.name, st.stateMachine, st.timeout.Milliseconds(),
		st.commandSequence, st.eventIndex)
	if err != nil {
		return fmt.Errorf("cannot upsert session %s: %w", st.id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id Id) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM raft_sessions WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("cannot delete session %s: %w", id, err)
	}
	return nil
}

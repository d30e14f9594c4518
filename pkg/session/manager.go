package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/galdor/go-log"
	"golang.org/x/sync/singleflight"

	"github.com/galdor/go-raft/pkg/raft"
)

// Manager tracks every session a client currently has open and keeps them
// alive on a shared timer. A nil Store degrades to memory-only bookkeeping,
// logged once at Info.
type Manager struct {
	clientId  string
	transport Transport
	store     *Store
	log       *log.Logger

	mu       sync.Mutex
	sessions map[Id]*state

	// leader and members are the address-selector hint returned by the
	// last successful KeepAlive: which server to try first, and the full
	// set to fall back to once leader is cleared. hasLeader distinguishes
	// "no hint yet" from a hint whose ServerId happens to be empty.
	leader    raft.ServerId
	hasLeader bool
	members   []raft.ServerId

	group singleflight.Group

	keepAliveTimer *time.Timer
	closed         bool
}

func NewManager(clientId string, transport Transport, store *Store, logger *log.Logger) *Manager {
	if store == nil {
		logger.Info("no session store configured, running memory-only")
	}

	return &Manager{
		clientId:  clientId,
		transport: transport,
		store:     store,
		log:       logger,
		sessions:  make(map[Id]*state),
	}
}

// OpenSession registers a new session with the cluster, starts (or reuses)
// the shared keep-alive timer, and durably records the session if a Store
// is configured.
func (m *Manager) OpenSession(ctx context.Context, name, stateMachine string, timeout time.Duration) (Id, error) {
	res, err := m.transport.OpenSession(ctx, OpenSessionRequest{
		ClientId:     m.clientId,
		Name:         name,
		StateMachine: stateMachine,
		Timeout:      timeout.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("cannot open session: %w", err)
	}

	st := &state{
		id:           res.SessionId,
		name:         name,
		stateMachine: stateMachine,
		timeout:      time.Duration(res.Timeout) * time.Millisecond,
		sessionState: StateConnected,
	}

	m.mu.Lock()
	m.sessions[st.id] = st
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Put(ctx, st); err != nil {
			m.log.Error("cannot persist session %s: %v", st.id, err)
		}
	}

	m.scheduleKeepAlive()

	return st.id, nil
}

// CloseSession unregisters a session and removes it from the keep-alive
// rotation.
func (m *Manager) CloseSession(ctx context.Context, id Id) error {
	m.mu.Lock()
	_, found := m.sessions[id]
	if found {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !found {
		return fmt.Errorf("unknown session %s", id)
	}

	if err := m.transport.CloseSession(ctx, CloseSessionRequest{SessionId: id}); err != nil {
		return fmt.Errorf("cannot close session: %w", err)
	}

	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Error("cannot delete persisted session %s: %v", id, err)
		}
	}

	return nil
}

// KeepAlive sends a single batched request covering every currently open
// session, collapsing concurrent callers via singleflight so a burst of
// per-session keep-alive calls never produces more than one request in
// flight.
func (m *Manager) KeepAlive(ctx context.Context) error {
	_, err, _ := m.group.Do("keepalive", func() (interface{}, error) {
		return nil, m.keepAliveSessions(ctx, true)
	})
	return err
}

// keepAliveSessions sends one batched keep-alive covering every open
// session. On failure, a leader hint from a prior success is treated as
// possibly stale: the first failure with a known leader clears the hint and
// retries once against the full server set; a failure with no leader
// known, or a failure on the retry itself, suspends every session and
// waits for the next scheduled attempt instead of retrying immediately.
func (m *Manager) keepAliveSessions(ctx context.Context, retryOnFailure bool) error {
	m.mu.Lock()
	req := KeepAliveRequest{
		SessionIds:       make([]Id, 0, len(m.sessions)),
		CommandSequences: make([]int64, 0, len(m.sessions)),
		EventIndexes:     make([]int64, 0, len(m.sessions)),
	}
	for _, st := range m.sessions {
		req.SessionIds = append(req.SessionIds, st.id)
		req.CommandSequences = append(req.CommandSequences, st.commandSequence)
		req.EventIndexes = append(req.EventIndexes, st.eventIndex)
	}
	m.mu.Unlock()

	if len(req.SessionIds) == 0 {
		return nil
	}

	res, err := m.transport.KeepAlive(ctx, req)
	if err != nil {
		if m.clearLeaderIfKnown() && retryOnFailure {
			return m.keepAliveSessions(ctx, false)
		}

		m.markSuspended()
		m.scheduleKeepAlive()
		return fmt.Errorf("cannot send keep-alive: %w", err)
	}

	m.mu.Lock()
	m.leader = res.Leader
	m.hasLeader = true
	m.members = res.Members
	m.mu.Unlock()

	m.markConnected()
	m.scheduleKeepAlive()

	return nil
}

// clearLeaderIfKnown reports whether a leader hint was set and, if so,
// clears it: a keep-alive rejection while a leader is known means the hint
// is likely stale, so the retry falls back to the full server set instead
// of hitting the same server again.
func (m *Manager) clearLeaderIfKnown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasLeader {
		return false
	}
	m.hasLeader = false
	m.leader = ""
	return true
}

func (m *Manager) markConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.sessions {
		st.sessionState = StateConnected
	}
}

func (m *Manager) markSuspended() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.sessions {
		st.sessionState = StateSuspended
	}
}

// scheduleKeepAlive arms the shared timer at half of the shortest open
// session's timeout, per scheduleKeepAlive's minTimeout/2 rule.
func (m *Manager) scheduleKeepAlive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	var minTimeout time.Duration
	for _, st := range m.sessions {
		if minTimeout == 0 || st.timeout < minTimeout {
			minTimeout = st.timeout
		}
	}
	if minTimeout == 0 {
		return
	}

	delay := minTimeout / 2

	if m.keepAliveTimer != nil {
		m.keepAliveTimer.Stop()
	}

	m.keepAliveTimer = time.AfterFunc(delay, func() {
		if err := m.KeepAlive(context.Background()); err != nil {
			m.log.Error("keep-alive failed: %v", err)
		}
	})
}

// Close stops the keep-alive timer without closing individual sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.keepAliveTimer != nil {
		m.keepAliveTimer.Stop()
	}
}

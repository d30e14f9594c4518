package raft

import (
	"fmt"
	"sync"
)

// ReplicaContext is the hub of the replica. It exclusively owns the scalar
// election/apply state and holds non-owning references to the log and the
// cluster view, plus the event bus. Collaborators receive a pointer to the
// context at construction and never hold a reference back the other way —
// a hub-and-spoke shape rather than the bidirectional references a naive
// port would produce.
type ReplicaContext struct {
	Log     Log
	Cluster *ClusterView
	Events  *EventBus

	store *PersistentStore

	state PersistentState

	currentLeader ServerId
	hasLeader     bool

	commitIndex LogIndex
	lastApplied LogIndex

	// LogMu serializes multi-step log mutation sequences — AppendEntries'
	// conflict truncation, snapshot install, and SnapshotPipeline's
	// background compaction — against each other. A single Log call is
	// already safe on its own (MemLog holds its own internal lock); this
	// only matters where more than one call must appear atomic to
	// compaction running concurrently on its own goroutine.
	LogMu sync.Mutex
}

func NewReplicaContext(store *PersistentStore, log Log, cluster *ClusterView) (*ReplicaContext, error) {
	ctx := &ReplicaContext{
		Log:     log,
		Cluster: cluster,
		Events:  NewEventBus(),
		store:   store,
	}

	if err := ctx.store.Read(&ctx.state); err != nil {
		return nil, fmt.Errorf("cannot read persistent state: %w", err)
	}

	return ctx, nil
}

func (c *ReplicaContext) CurrentTerm() Term {
	return c.state.CurrentTerm
}

func (c *ReplicaContext) VotedFor() (ServerId, bool) {
	return c.state.VotedFor, c.state.VotedFor != ""
}

// VotedForString is a logging convenience: an empty vote reads as "" rather
// than a zero value that might be confused for a real member id.
func (c *ReplicaContext) VotedForString() string {
	return string(c.state.VotedFor)
}

// SetTermAndVote durably persists a new (currentTerm, votedFor) pair. Both
// fields are always written together since they are the two halves of
// PersistentState.
func (c *ReplicaContext) SetTermAndVote(term Term, votedFor ServerId) error {
	state := PersistentState{CurrentTerm: term, VotedFor: votedFor}
	if err := c.store.Write(state); err != nil {
		return err
	}
	c.state = state
	return nil
}

// SetTerm durably persists term while leaving votedFor exactly as it is.
// Use this instead of SetTermAndVote whenever the caller must not imply a
// fresh election round in the current term, e.g. a replica learning about
// the current term's leader after already having cast its vote.
func (c *ReplicaContext) SetTerm(term Term) error {
	return c.SetTermAndVote(term, c.state.VotedFor)
}

func (c *ReplicaContext) CurrentLeader() (ServerId, bool) {
	return c.currentLeader, c.hasLeader
}

func (c *ReplicaContext) SetCurrentLeader(id ServerId) {
	c.currentLeader = id
	c.hasLeader = id != ""
}

func (c *ReplicaContext) ClearCurrentLeader() {
	c.currentLeader = ""
	c.hasLeader = false
}

func (c *ReplicaContext) CommitIndex() LogIndex {
	return c.commitIndex
}

func (c *ReplicaContext) SetCommitIndex(index LogIndex) {
	c.commitIndex = index
}

func (c *ReplicaContext) LastApplied() LogIndex {
	return c.lastApplied
}

// AdvanceLastApplied is the single point where lastApplied ever changes: it
// never decreases, and callers must check before dispatch that an entry is
// only applied when lastApplied == index-1.
func (c *ReplicaContext) AdvanceLastApplied(index LogIndex) {
	if index < c.lastApplied {
		Panicf("lastApplied moved backward: %d -> %d", c.lastApplied, index)
	}
	c.lastApplied = index
}

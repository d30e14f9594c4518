package raft

import "testing"

func TestReplicaContextTermAndVotePersist(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())

	if ctx.CurrentTerm() != 0 {
		t.Fatalf("expected term 0 on a fresh context, got %d", ctx.CurrentTerm())
	}
	if _, found := ctx.VotedFor(); found {
		t.Fatalf("did not expect a vote on a fresh context")
	}

	if err := ctx.SetTermAndVote(3, "s2"); err != nil {
		t.Fatalf("cannot set term and vote: %v", err)
	}
	if ctx.CurrentTerm() != 3 {
		t.Fatalf("expected term 3, got %d", ctx.CurrentTerm())
	}
	votedFor, found := ctx.VotedFor()
	if !found || votedFor != "s2" {
		t.Fatalf("expected votedFor s2, got %q (found=%v)", votedFor, found)
	}
	if ctx.VotedForString() != "s2" {
		t.Fatalf("expected VotedForString to return s2, got %q", ctx.VotedForString())
	}
}

func TestReplicaContextSetTermPreservesVote(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())

	if err := ctx.SetTermAndVote(4, "s1"); err != nil {
		t.Fatalf("cannot set term and vote: %v", err)
	}

	if err := ctx.SetTerm(4); err != nil {
		t.Fatalf("cannot set term: %v", err)
	}

	if ctx.CurrentTerm() != 4 {
		t.Fatalf("expected term to remain 4, got %d", ctx.CurrentTerm())
	}
	votedFor, found := ctx.VotedFor()
	if !found || votedFor != "s1" {
		t.Fatalf("expected the existing vote for s1 to survive SetTerm, got %q (found=%v)", votedFor, found)
	}
}

func TestReplicaContextCurrentLeader(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())

	if _, found := ctx.CurrentLeader(); found {
		t.Fatalf("did not expect a leader on a fresh context")
	}

	ctx.SetCurrentLeader("s2")
	leader, found := ctx.CurrentLeader()
	if !found || leader != "s2" {
		t.Fatalf("expected leader s2, got %q (found=%v)", leader, found)
	}

	ctx.ClearCurrentLeader()
	if _, found := ctx.CurrentLeader(); found {
		t.Fatalf("expected the leader to be cleared")
	}
}

func TestReplicaContextAdvanceLastAppliedPanicsOnRegression(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())

	ctx.AdvanceLastApplied(3)
	if ctx.LastApplied() != 3 {
		t.Fatalf("expected lastApplied 3, got %d", ctx.LastApplied())
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected AdvanceLastApplied to panic when moving backward")
		}
	}()
	ctx.AdvanceLastApplied(2)
}

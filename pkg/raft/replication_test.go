package raft

import "testing"

func TestReplicationHandlerAppendEntriesHeartbeat(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res, revert := handler.AppendEntries(&RPCAppendEntriesRequest{
		Id:           NewRequestId(),
		Term:         1,
		LeaderId:     "s2",
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		CommitIndex:  0,
	})

	if !res.Success {
		t.Fatalf("expected success, got failure at term %d", res.Term)
	}
	if !revert {
		t.Fatalf("expected revert to follower on first contact with a higher term")
	}
	if ctx.CurrentTerm() != 1 {
		t.Fatalf("expected term 1, got %d", ctx.CurrentTerm())
	}
}

func TestReplicationHandlerAppendEntriesStaleTerm(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	if err := ctx.SetTermAndVote(5, ""); err != nil {
		t.Fatalf("cannot set term: %v", err)
	}

	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res, revert := handler.AppendEntries(&RPCAppendEntriesRequest{
		Id:       NewRequestId(),
		Term:     3,
		LeaderId: "s2",
	})

	if res.Success {
		t.Fatalf("expected failure for a stale leader term")
	}
	if revert {
		t.Fatalf("did not expect a revert for a stale leader term")
	}
	if res.Term != 5 {
		t.Fatalf("expected response term 5, got %d", res.Term)
	}
}

func TestReplicationHandlerAppendEntriesSameTermLeaderLearnedPreservesVote(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())

	// s1 starts a candidacy for term 3 and votes for itself, exactly as
	// role.go's startElection does.
	if err := ctx.SetTermAndVote(3, "s1"); err != nil {
		t.Fatalf("cannot set term and vote: %v", err)
	}

	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	// The replica that actually won term 3 reaches s1 first, with no prior
	// knowledge of a leader for that term.
	res, revert := handler.AppendEntries(&RPCAppendEntriesRequest{
		Id:       NewRequestId(),
		Term:     3,
		LeaderId: "s2",
	})
	if !res.Success {
		t.Fatalf("expected success for a same-term leader message, got failure at term %d", res.Term)
	}
	if !revert {
		t.Fatalf("expected revert to follower on learning of a leader for the current term")
	}

	votedFor, found := ctx.VotedFor()
	if !found || votedFor != "s1" {
		t.Fatalf("expected the self-vote for term 3 to survive, got %q (found=%v)", votedFor, found)
	}

	// A straggling RequestVote for the same term must now be rejected: s1
	// already voted (for itself) in term 3.
	voteRes := handler.RequestVote(&RPCRequestVoteRequest{
		Id:          NewRequestId(),
		Term:        3,
		CandidateId: "s3",
	})
	if voteRes.VoteGranted {
		t.Fatalf("expected the vote to be denied: s1 already voted in term 3")
	}
}

func TestReplicationHandlerAppendEntriesConsistencyCheck(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res, _ := handler.AppendEntries(&RPCAppendEntriesRequest{
		Id:           NewRequestId(),
		Term:         1,
		LeaderId:     "s2",
		PrevLogIndex: 5,
		PrevLogTerm:  1,
	})

	if res.Success {
		t.Fatalf("expected failure: prevLogIndex is beyond the local log")
	}
}

func TestReplicationHandlerAppendEntriesTruncatesConflictingSuffix(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	if err := ctx.Log.AppendEntries([]Entry{
		NewCommandEntry(1, "a", nil),
		NewCommandEntry(1, "b", nil),
		NewCommandEntry(1, "stale", nil),
	}); err != nil {
		t.Fatalf("cannot seed log: %v", err)
	}

	res, _ := handler.AppendEntries(&RPCAppendEntriesRequest{
		Id:           NewRequestId(),
		Term:         2,
		LeaderId:     "s2",
		PrevLogIndex: 2,
		PrevLogTerm:  1,
		Entries: []Entry{
			NewCommandEntry(2, "c", nil),
		},
		CommitIndex: 0,
	})

	if !res.Success {
		t.Fatalf("expected success")
	}
	if ctx.Log.LastIndex() != 3 {
		t.Fatalf("expected log length 3 after truncation, got index %d", ctx.Log.LastIndex())
	}
	entry, _ := ctx.Log.GetEntry(3)
	if entry.Command != "c" {
		t.Fatalf("expected the conflicting suffix to be replaced, got %q", entry.Command)
	}
}

func TestReplicationHandlerAppendEntriesAdvancesCommitAndApplies(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res, _ := handler.AppendEntries(&RPCAppendEntriesRequest{
		Id:           NewRequestId(),
		Term:         1,
		LeaderId:     "s2",
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries: []Entry{
			NewCommandEntry(1, "put", nil),
		},
		CommitIndex: 1,
	})

	if !res.Success {
		t.Fatalf("expected success")
	}
	if ctx.LastApplied() != 1 {
		t.Fatalf("expected lastApplied 1, got %d", ctx.LastApplied())
	}
	if len(sm.applied) != 1 || sm.applied[0] != "put" {
		t.Fatalf("expected the command to reach the state machine, got %v", sm.applied)
	}
}

func TestReplicationHandlerRequestVoteGrantsOnUpToDateLog(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res := handler.RequestVote(&RPCRequestVoteRequest{
		Id:           NewRequestId(),
		Term:         1,
		CandidateId:  "s2",
		LastLogIndex: 0,
		LastLogTerm:  0,
	})

	if !res.VoteGranted {
		t.Fatalf("expected the vote to be granted on an empty log")
	}

	votedFor, found := ctx.VotedFor()
	if !found || votedFor != "s2" {
		t.Fatalf("expected votedFor to be s2, got %q (found=%v)", votedFor, found)
	}
}

func TestReplicationHandlerRequestVoteRejectsSecondCandidateSameTerm(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res1 := handler.RequestVote(&RPCRequestVoteRequest{Id: NewRequestId(), Term: 1, CandidateId: "s2"})
	if !res1.VoteGranted {
		t.Fatalf("expected first vote to be granted")
	}

	res2 := handler.RequestVote(&RPCRequestVoteRequest{Id: NewRequestId(), Term: 1, CandidateId: "s3"})
	if res2.VoteGranted {
		t.Fatalf("expected the second candidate in the same term to be rejected")
	}
}

func TestReplicationHandlerRequestVoteRejectsStaleLog(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	if err := ctx.Log.AppendEntries([]Entry{
		NewCommandEntry(3, "a", nil),
	}); err != nil {
		t.Fatalf("cannot seed log: %v", err)
	}
	if err := ctx.SetTermAndVote(3, ""); err != nil {
		t.Fatalf("cannot set term: %v", err)
	}

	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	handler := NewReplicationHandler(ctx, sm, snapshots, testLogger{})

	res := handler.RequestVote(&RPCRequestVoteRequest{
		Id:           NewRequestId(),
		Term:         3,
		CandidateId:  "s2",
		LastLogIndex: 0,
		LastLogTerm:  0,
	})

	if res.VoteGranted {
		t.Fatalf("expected the vote to be rejected: candidate's log is behind")
	}
}

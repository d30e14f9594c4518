package raft

import (
	"testing"
	"time"
)

func TestCommandSubmitterRejectsWhenNotLeader(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	transport := &testTransport{}
	roles := newTestRoleStateMachine(ctx, transport)

	submitter := NewCommandSubmitter(ctx, roles, testLogger{})

	var got RPCSubmitCommandResponse
	submitter.SubmitCommand(&RPCSubmitCommandRequest{Id: NewRequestId(), Command: "put"}, func(res RPCSubmitCommandResponse) {
		got = res
	})

	if got.ErrorMessage == "" {
		t.Fatalf("expected an error reply from a non-leader")
	}
}

func TestCommandSubmitterCompletesOnApply(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	transport := &testTransport{}
	roles := newTestRoleStateMachine(ctx, transport)
	roles.Start()
	defer roles.Stop()

	submitter := NewCommandSubmitter(ctx, roles, testLogger{})
	ctx.Events.OnCommandApplied(submitter.OnCommandApplied)

	roles.startElection()
	roles.OnVoteGranted("s2", true)
	if !roles.IsLeader() {
		t.Fatalf("expected leader state")
	}

	replied := make(chan RPCSubmitCommandResponse, 1)
	submitter.SubmitCommand(&RPCSubmitCommandRequest{Id: NewRequestId(), Command: "put", Args: []byte("v")}, func(res RPCSubmitCommandResponse) {
		replied <- res
	})

	index := ctx.Log.LastIndex()
	sm := &testStateMachine{}
	snapshots := NewSnapshotPipeline(ctx, sm, testLogger{}, 0, 1<<30)
	ctx.SetCommitIndex(index)
	for ctx.LastApplied() < ctx.CommitIndex() {
		ApplyNext(ctx, sm, snapshots, testLogger{})
	}

	select {
	case res := <-replied:
		if res.ErrorMessage != "" {
			t.Fatalf("unexpected error: %s", res.ErrorMessage)
		}
		if string(res.Result) != "v" {
			t.Fatalf("expected result %q, got %q", "v", res.Result)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the pending command to complete")
	}
}

func TestCommandSubmitterAbandonsOnLeadershipLost(t *testing.T) {
	ctx := newTestContext(t, "s1", testServers())
	transport := &testTransport{}
	roles := newTestRoleStateMachine(ctx, transport)
	roles.Start()
	defer roles.Stop()

	submitter := NewCommandSubmitter(ctx, roles, testLogger{})

	roles.startElection()
	roles.OnVoteGranted("s2", true)

	replied := make(chan RPCSubmitCommandResponse, 1)
	submitter.SubmitCommand(&RPCSubmitCommandRequest{Id: NewRequestId(), Command: "put"}, func(res RPCSubmitCommandResponse) {
		replied <- res
	})

	roles.RevertToFollower()

	select {
	case res := <-replied:
		if res.ErrorMessage == "" {
			t.Fatalf("expected an abandonment error")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the pending command to be abandoned")
	}
}

package raft

// ReplicationHandler holds the incoming-request handlers for AppendEntries
// and RequestVote, including the log-matching and commit-advance logic.
// SubmitCommand lives in submit.go since it additionally needs the
// pending-future table.
type ReplicationHandler struct {
	ctx       *ReplicaContext
	sm        StateMachine
	snapshots *SnapshotPipeline
	log       Logger
}

func NewReplicationHandler(ctx *ReplicaContext, sm StateMachine, snapshots *SnapshotPipeline, logger Logger) *ReplicationHandler {
	return &ReplicationHandler{ctx: ctx, sm: sm, snapshots: snapshots, log: logger}
}

// AppendEntries validates and applies a leader's replication request. The
// second return value reports whether the caller must arm a post-reply
// transition to Follower — the reply itself is always computed and returned
// first so the term used to decide success is never disturbed by the
// transition.
func (h *ReplicationHandler) AppendEntries(req *RPCAppendEntriesRequest) (RPCAppendEntriesResponse, bool) {
	ctx := h.ctx

	revert := false

	// Step 1: term observation. A higher term starts a fresh election round
	// and clears any vote cast in a now-stale term; learning the current
	// term's leader for the first time must not retroactively invalidate a
	// vote this replica already cast in that same term.
	_, hasLeader := ctx.CurrentLeader()
	if req.Term > ctx.CurrentTerm() {
		if err := ctx.SetTermAndVote(req.Term, ""); err != nil {
			h.log.Error("cannot persist observed term: %v", err)
		} else {
			ctx.SetCurrentLeader(req.LeaderId)
		}
		revert = true
	} else if req.Term == ctx.CurrentTerm() && !hasLeader {
		if err := ctx.SetTerm(req.Term); err != nil {
			h.log.Error("cannot persist observed term: %v", err)
		} else {
			ctx.SetCurrentLeader(req.LeaderId)
		}
		revert = true
	}

	// Step 2: stale leader.
	if req.Term < ctx.CurrentTerm() {
		return RPCAppendEntriesResponse{
			Id:           req.Id,
			Term:         ctx.CurrentTerm(),
			Success:      false,
			LastLogIndex: ctx.Log.LastIndex(),
		}, revert
	}

	// Step 3: previous-entry consistency.
	if req.PrevLogIndex > 0 && req.PrevLogTerm > 0 {
		if req.PrevLogIndex > ctx.Log.LastIndex() {
			return RPCAppendEntriesResponse{
				Id: req.Id, Term: ctx.CurrentTerm(), Success: false,
				LastLogIndex: ctx.Log.LastIndex(),
			}, revert
		}

		entry, found := ctx.Log.GetEntry(req.PrevLogIndex)
		if !found || entry.Term != req.PrevLogTerm {
			return RPCAppendEntriesResponse{
				Id: req.Id, Term: ctx.CurrentTerm(), Success: false,
				LastLogIndex: ctx.Log.LastIndex(),
			}, revert
		}
	}

	// Step 4: append, with conflict truncation.
	if err := h.appendEntries(req); err != nil {
		h.log.Error("cannot append entries: %v", err)
		return RPCAppendEntriesResponse{
			Id: req.Id, Term: ctx.CurrentTerm(), Success: false,
			LastLogIndex: ctx.Log.LastIndex(),
		}, revert
	}

	// Step 5: commit advance and apply.
	h.advanceCommitAndApply(req.CommitIndex)

	// Step 6: reply.
	return RPCAppendEntriesResponse{
		Id:           req.Id,
		Term:         ctx.CurrentTerm(),
		Success:      true,
		LastLogIndex: ctx.Log.LastIndex(),
	}, revert
}

func (h *ReplicationHandler) appendEntries(req *RPCAppendEntriesRequest) error {
	ctx := h.ctx

	ctx.LogMu.Lock()
	defer ctx.LogMu.Unlock()

	for k, entry := range req.Entries {
		slot := req.PrevLogIndex + LogIndex(k) + 1

		local, found := ctx.Log.GetEntry(slot)
		if found && local.Term != entry.Term {
			if err := ctx.Log.RemoveAfter(slot - 1); err != nil {
				return err
			}
			return ctx.Log.AppendEntries(req.Entries[k:])
		}

		if !found {
			// Local log is short of this slot: append the remaining tail
			// and stop scanning.
			return ctx.Log.AppendEntries(req.Entries[k:])
		}
	}

	return nil
}

// advanceCommitAndApply raises the commit index to the leader's advertised
// value (bounded by the local log) and drains the apply loop up to it. A
// commit index that already accounts for the new request but whose
// apply-loop previously stalled still gets a chance to catch up here.
func (h *ReplicationHandler) advanceCommitAndApply(requestCommitIndex LogIndex) {
	ctx := h.ctx

	if requestCommitIndex <= ctx.CommitIndex() && ctx.CommitIndex() <= ctx.LastApplied() {
		return
	}

	lastIndex := ctx.Log.LastIndex()
	newCommit := requestCommitIndex
	if ctx.CommitIndex() > newCommit {
		newCommit = ctx.CommitIndex()
	}
	if newCommit > lastIndex {
		newCommit = lastIndex
	}
	ctx.SetCommitIndex(newCommit)

	for ctx.LastApplied() < ctx.CommitIndex() {
		ApplyNext(ctx, h.sm, h.snapshots, h.log)
	}

	h.snapshots.MaybeCompact()
}

// RequestVote decides whether to grant a vote to a candidate.
func (h *ReplicationHandler) RequestVote(req *RPCRequestVoteRequest) RPCRequestVoteResponse {
	ctx := h.ctx

	if req.Term > ctx.CurrentTerm() {
		if err := ctx.SetTermAndVote(req.Term, ""); err != nil {
			h.log.Error("cannot persist observed term: %v", err)
		} else {
			ctx.ClearCurrentLeader()
		}
	}

	if req.Term < ctx.CurrentTerm() {
		return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: false}
	}

	if req.CandidateId == ctx.Cluster.LocalMember() {
		if err := ctx.SetTermAndVote(ctx.CurrentTerm(), req.CandidateId); err != nil {
			h.log.Error("cannot persist self vote: %v", err)
			return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: false}
		}
		ctx.Events.PublishVoteCast(VoteCastEvent{Term: ctx.CurrentTerm(), Candidate: req.CandidateId})
		return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: true}
	}

	if !ctx.Cluster.IsMember(req.CandidateId) {
		return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: false}
	}

	votedFor, hasVoted := ctx.VotedFor()
	if hasVoted && votedFor != req.CandidateId {
		return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: false}
	}

	grant := ctx.Log.IsEmpty()
	if !grant {
		lastIndex := ctx.Log.LastIndex()
		lastEntry, found := ctx.Log.GetEntry(lastIndex)
		if !found {
			grant = true
		} else {
			grant = req.LastLogIndex >= lastIndex && req.LastLogTerm >= lastEntry.Term
		}
	}

	if !grant {
		return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: false}
	}

	if err := ctx.SetTermAndVote(ctx.CurrentTerm(), req.CandidateId); err != nil {
		h.log.Error("cannot persist vote: %v", err)
		return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: false}
	}

	ctx.Events.PublishVoteCast(VoteCastEvent{Term: ctx.CurrentTerm(), Candidate: req.CandidateId})

	return RPCRequestVoteResponse{Id: req.Id, Term: ctx.CurrentTerm(), VoteGranted: true}
}

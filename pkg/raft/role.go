package raft

import (
	"math/rand"
	"time"
)

// RoleTransport is the narrow send-side seam RoleStateMachine needs from
// the transport: broadcast a message to every remote member, or send one to
// a specific member. Kept separate from the full Transport surface so role
// logic never touches HTTP/JSON directly.
type RoleTransport interface {
	SendMsg(recipient ServerId, msg RPCMsg)
	BroadcastMsg(msg RPCMsg)
}

// RoleStateMachine is the Follower/Candidate/Leader FSM, election timers,
// vote solicitation, leader heartbeat, and per-follower replication
// cursors. It holds a non-owning reference to ReplicaContext.
type RoleStateMachine struct {
	ctx       *ReplicaContext
	transport RoleTransport
	log       Logger

	minElectionTimeout time.Duration
	maxElectionTimeout time.Duration
	heartbeatInterval  time.Duration

	rnd *rand.Rand

	state ServerState

	votes map[ServerId]bool

	nextIndex  map[ServerId]LogIndex
	matchIndex map[ServerId]LogIndex

	heartbeatTicker *time.Ticker
	electionTimer   *time.Timer

	onBecomeLeader   func()
	onLeadershipLost func()
}

type RoleCfg struct {
	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration
	HeartbeatInterval  time.Duration
}

func NewRoleStateMachine(ctx *ReplicaContext, transport RoleTransport, logger Logger, cfg RoleCfg, seed int64) *RoleStateMachine {
	return &RoleStateMachine{
		ctx:                ctx,
		transport:          transport,
		log:                logger,
		minElectionTimeout: cfg.MinElectionTimeout,
		maxElectionTimeout: cfg.MaxElectionTimeout,
		heartbeatInterval:  cfg.HeartbeatInterval,
		rnd:                rand.New(rand.NewSource(seed)),
		state:              ServerStateFollower,
	}
}

// OnBecomeLeader/OnLeadershipLost register the callbacks submit.go uses to
// arm and cancel the pending-command future table.
func (r *RoleStateMachine) OnBecomeLeader(fn func())   { r.onBecomeLeader = fn }
func (r *RoleStateMachine) OnLeadershipLost(fn func()) { r.onLeadershipLost = fn }

func (r *RoleStateMachine) State() ServerState {
	return r.state
}

func (r *RoleStateMachine) IsLeader() bool {
	return r.state == ServerStateLeader
}

// NextIndex/MatchIndex are read by submit.go and diagnostics; only
// meaningful in the Leader role.
func (r *RoleStateMachine) NextIndex(id ServerId) LogIndex  { return r.nextIndex[id] }
func (r *RoleStateMachine) MatchIndex(id ServerId) LogIndex { return r.matchIndex[id] }

func (r *RoleStateMachine) Start() {
	r.setupHeartbeatTicker()
	r.setupElectionTimer()
}

func (r *RoleStateMachine) Stop() {
	if r.heartbeatTicker != nil {
		r.heartbeatTicker.Stop()
	}
	if r.electionTimer != nil {
		r.electionTimer.Stop()
	}
}

func (r *RoleStateMachine) HeartbeatTickerChan() <-chan time.Time {
	return r.heartbeatTicker.C
}

func (r *RoleStateMachine) ElectionTimerChan() <-chan time.Time {
	return r.electionTimer.C
}

// RevertToFollower is the post-reply transition armed whenever a replica
// sees a higher term. When already a Follower the role does not change and
// no RoleChanged event is published; the election timer is still re-armed.
func (r *RoleStateMachine) RevertToFollower() {
	from := r.state
	r.state = ServerStateFollower

	r.nextIndex = nil
	r.matchIndex = nil

	if from == ServerStateLeader && r.onLeadershipLost != nil {
		r.onLeadershipLost()
	}
	r.votes = nil

	r.setupElectionTimer()

	if from != ServerStateFollower {
		r.log.Info("reverting to follower in term %d", r.ctx.CurrentTerm())
		r.ctx.Events.PublishRoleChanged(RoleChangedEvent{Term: r.ctx.CurrentTerm(), From: from, To: ServerStateFollower})
	}
}

// OnAppendEntriesSeen resets the election timer whenever a Follower
// observes a valid AppendEntries from the current leader.
func (r *RoleStateMachine) OnAppendEntriesSeen() {
	if r.state == ServerStateFollower {
		r.resetElectionTimer()
	}
}

func (r *RoleStateMachine) OnElectionTimer() {
	switch r.state {
	case ServerStateFollower:
		r.startElection()
	case ServerStateCandidate:
		r.onElectionTimeout()
	default:
		Panicf("unexpected election timer activation in state %v", r.state)
	}
}

func (r *RoleStateMachine) OnHeartbeatTicker() {
	if r.state != ServerStateLeader {
		return
	}

	r.transport.BroadcastMsg(&RPCAppendEntriesRequest{
		Id:           NewRequestId(),
		Term:         r.ctx.CurrentTerm(),
		LeaderId:     r.ctx.Cluster.LocalMember(),
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		CommitIndex:  r.ctx.CommitIndex(),
	})
}

func (r *RoleStateMachine) startElection() {
	if r.state != ServerStateFollower {
		Panicf("cannot start election in state %v", r.state)
	}

	nextTerm := r.ctx.CurrentTerm() + 1
	r.log.Debug(1, "starting election for term %d", nextTerm)

	local := r.ctx.Cluster.LocalMember()

	if err := r.ctx.SetTermAndVote(nextTerm, local); err != nil {
		r.log.Error("cannot persist election state: %v", err)
		r.setupElectionTimer()
		return
	}
	r.ctx.Events.PublishVoteCast(VoteCastEvent{Term: nextTerm, Candidate: local})

	lastIndex := r.ctx.Log.LastIndex()
	var lastTerm Term
	if entry, found := r.ctx.Log.GetEntry(lastIndex); found {
		lastTerm = entry.Term
	}

	r.transport.BroadcastMsg(&RPCRequestVoteRequest{
		Id:           NewRequestId(),
		Term:         nextTerm,
		CandidateId:  local,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	})

	from := r.state
	r.state = ServerStateCandidate
	r.votes = map[ServerId]bool{local: true}

	r.ctx.Events.PublishRoleChanged(RoleChangedEvent{Term: nextTerm, From: from, To: ServerStateCandidate})

	r.setupElectionTimer()
}

func (r *RoleStateMachine) onElectionTimeout() {
	if r.state != ServerStateCandidate {
		Panicf("election cannot timeout in state %v", r.state)
	}

	r.log.Debug(1, "election timeout in term %d", r.ctx.CurrentTerm())

	r.state = ServerStateFollower
	r.startElection()
}

// OnVoteGranted feeds a RequestVote response into the candidate's vote
// tally and transitions to Leader on a majority.
func (r *RoleStateMachine) OnVoteGranted(source ServerId, granted bool) {
	if r.state != ServerStateCandidate {
		return
	}

	if r.votes == nil {
		r.votes = make(map[ServerId]bool)
	}
	r.votes[source] = granted

	count := 0
	for _, v := range r.votes {
		if v {
			count++
		}
	}

	if count < r.ctx.Cluster.Quorum() {
		return
	}

	r.log.Info("obtained %d votes (quorum %d), becoming leader",
		count, r.ctx.Cluster.Quorum())

	from := r.state
	r.state = ServerStateLeader
	r.ctx.SetCurrentLeader(r.ctx.Cluster.LocalMember())

	if r.electionTimer != nil {
		r.electionTimer.Stop()
	}
	r.votes = nil

	remote := r.ctx.Cluster.RemoteMembers()
	r.nextIndex = make(map[ServerId]LogIndex, len(remote))
	r.matchIndex = make(map[ServerId]LogIndex, len(remote))
	lastIndex := r.ctx.Log.LastIndex()
	for _, id := range remote {
		r.nextIndex[id] = lastIndex + 1
		r.matchIndex[id] = 0
	}

	// A NoOp entry at leader assumption gives the new leader an entry of
	// its own term to commit before it can advance commitIndex past
	// entries from prior terms.
	noop := NewNoOpEntry(r.ctx.CurrentTerm())
	if err := r.ctx.Log.AppendEntries([]Entry{noop}); err != nil {
		r.log.Error("cannot append no-op entry: %v", err)
	}

	r.transport.BroadcastMsg(&RPCAppendEntriesRequest{
		Id:           NewRequestId(),
		Term:         r.ctx.CurrentTerm(),
		LeaderId:     r.ctx.Cluster.LocalMember(),
		PrevLogIndex: lastIndex,
		PrevLogTerm:  0,
		Entries:      []Entry{noop},
		CommitIndex:  r.ctx.CommitIndex(),
	})

	r.resetHeartbeatTicker()

	if r.onBecomeLeader != nil {
		r.onBecomeLeader()
	}

	r.ctx.Events.PublishRoleChanged(RoleChangedEvent{Term: r.ctx.CurrentTerm(), From: from, To: ServerStateLeader})
}

// AdvanceReplicationCursor applies the decrement-on-reject /
// advance-on-accept rule for a single follower's AppendEntries response.
func (r *RoleStateMachine) AdvanceReplicationCursor(follower ServerId, res *RPCAppendEntriesResponse) {
	if r.state != ServerStateLeader {
		return
	}

	if res.Success {
		r.matchIndex[follower] = res.LastLogIndex
		r.nextIndex[follower] = res.LastLogIndex + 1
		return
	}

	next := r.nextIndex[follower]
	if next > 1 {
		r.nextIndex[follower] = next - 1
	}
}

func (r *RoleStateMachine) setupHeartbeatTicker() {
	if r.heartbeatTicker == nil {
		r.heartbeatTicker = time.NewTicker(r.heartbeatInterval)
		return
	}
	r.heartbeatTicker.Reset(r.heartbeatInterval)
}

func (r *RoleStateMachine) resetHeartbeatTicker() {
	if r.state != ServerStateLeader {
		Panicf("cannot reset heartbeat ticker in state %v", r.state)
	}
	r.heartbeatTicker.Reset(r.heartbeatInterval)
}

func (r *RoleStateMachine) setupElectionTimer() {
	if r.state == ServerStateLeader {
		Panicf("cannot setup election timer in state %v", r.state)
	}

	timeout := r.electionTimeout()

	if r.electionTimer != nil {
		r.electionTimer.Stop()
		r.electionTimer = time.NewTimer(timeout)
		return
	}

	r.electionTimer = time.NewTimer(timeout)
}

func (r *RoleStateMachine) resetElectionTimer() {
	if r.state != ServerStateFollower {
		Panicf("cannot reset election timer in state %v", r.state)
	}

	timeout := r.electionTimeout()

	if !r.electionTimer.Stop() {
		select {
		case <-r.electionTimer.C:
		default:
		}
	}

	r.electionTimer.Reset(timeout)
}

func (r *RoleStateMachine) electionTimeout() time.Duration {
	minMs := r.minElectionTimeout.Milliseconds()
	maxMs := r.maxElectionTimeout.Milliseconds()

	jitter := r.rnd.Int63n(maxMs - minMs + 1)
	return time.Duration(minMs+jitter) * time.Millisecond
}

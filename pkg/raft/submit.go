package raft

import "fmt"

// ReplyFunc delivers a SubmitCommand result back to whichever transport
// callback is waiting on it. It is called at most once per pending command:
// an explicit reply callback carried alongside the request rather than a
// future.
type ReplyFunc func(RPCSubmitCommandResponse)

type pendingCommand struct {
	requestId RequestId
	command   string
	reply     ReplyFunc
}

// CommandSubmitter is the leader-only half of SubmitCommand handling. It is
// driven entirely from the replica's single-writer executor, so the pending
// table needs no lock of its own.
type CommandSubmitter struct {
	ctx     *ReplicaContext
	roles   *RoleStateMachine
	log     Logger
	pending map[LogIndex]pendingCommand
}

func NewCommandSubmitter(ctx *ReplicaContext, roles *RoleStateMachine, logger Logger) *CommandSubmitter {
	s := &CommandSubmitter{
		ctx:     ctx,
		roles:   roles,
		log:     logger,
		pending: make(map[LogIndex]pendingCommand),
	}

	roles.OnLeadershipLost(s.abandonAll)

	return s
}

// SubmitCommand replies immediately when this replica is not the leader;
// otherwise it appends a Command entry and defers the reply until that
// entry's index is both committed and applied.
func (s *CommandSubmitter) SubmitCommand(req *RPCSubmitCommandRequest, reply ReplyFunc) {
	if !s.roles.IsLeader() {
		reply(RPCSubmitCommandResponse{Id: req.Id, ErrorMessage: "Not the leader"})
		return
	}

	entry := NewCommandEntry(s.ctx.CurrentTerm(), req.Command, req.Args)
	if err := s.ctx.Log.AppendEntries([]Entry{entry}); err != nil {
		reply(RPCSubmitCommandResponse{Id: req.Id, ErrorMessage: fmt.Sprintf("cannot append command: %v", err)})
		return
	}

	index := s.ctx.Log.LastIndex()
	s.pending[index] = pendingCommand{requestId: req.Id, command: req.Command, reply: reply}
}

// OnCommandApplied is wired to EventBus.OnCommandApplied; it completes any
// pending future whose index has now been applied.
func (s *CommandSubmitter) OnCommandApplied(ev CommandAppliedEvent) {
	pending, found := s.pending[ev.Index]
	if !found {
		return
	}
	delete(s.pending, ev.Index)

	res := RPCSubmitCommandResponse{Id: pending.requestId, Result: ev.Result}
	if ev.Err != nil {
		res.ErrorMessage = ev.Err.Error()
	}
	pending.reply(res)
}

// abandonAll cancels every pending future with a "leadership lost" error.
// It runs whenever the replica leaves the Leader role.
func (s *CommandSubmitter) abandonAll() {
	if len(s.pending) == 0 {
		return
	}

	s.log.Info("abandoning %d pending command(s): leadership lost", len(s.pending))

	for index, pending := range s.pending {
		pending.reply(RPCSubmitCommandResponse{
			Id:           pending.requestId,
			ErrorMessage: "leadership lost",
		})
		delete(s.pending, index)
	}
}

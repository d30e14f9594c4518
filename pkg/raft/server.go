package raft

import (
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"
)

type ServerCfg struct {
	Id      ServerId
	Servers ServerSet

	DataDirectory string

	Logger Logger

	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration

	HeartbeatInterval time.Duration

	MaxLogBytes        int
	SnapshotChunkBytes int

	// StateMachine is opaque to the engine, driven only through
	// ApplyCommand/TakeSnapshot/InstallSnapshot.
	StateMachine StateMachine
}

// Server wires the context, cluster view, role state machine, replication
// handler and snapshot pipeline together and runs the single-writer
// executor: every mutation of the context, the log and the cluster view
// happens on the goroutine started by Start, driven by the select loop in
// main(). The one exception is log compaction, which SnapshotPipeline runs
// on its own goroutine under ctx.LogMu.
type Server struct {
	Cfg ServerCfg
	Log Logger

	Id            ServerId
	LocalAddress  ServerAddress
	PublicAddress ServerAddress

	ctx         *ReplicaContext
	roles       *RoleStateMachine
	replication *ReplicationHandler
	snapshots   *SnapshotPipeline
	submitter   *CommandSubmitter

	persistentStore *PersistentStore
	log             *MemLog
	cluster         *ClusterView

	httpServer *http.Server
	httpClient *http.Client

	rpcChan      chan IncomingRPCMsg
	submitChan   chan submitRequest
	statusChan   chan chan Status
	snapshotChan chan struct{}

	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

type submitRequest struct {
	req   *RPCSubmitCommandRequest
	reply ReplyFunc
}

// Status is a point-in-time snapshot of the replica's own view of the
// cluster, for the administrative API (cmd/raftd/api_server.go) and
// diagnostics. It is read on the executor, via statusChan, so it can never
// observe a torn update.
type Status struct {
	Id          ServerId
	Role        ServerState
	Term        Term
	CommitIndex LogIndex
	LastApplied LogIndex
}

func NewServer(cfg ServerCfg) (*Server, error) {
	if cfg.Id == "" {
		return nil, fmt.Errorf("missing or empty server id")
	}

	sdata, found := cfg.Servers[cfg.Id]
	if !found {
		return nil, fmt.Errorf("unknown server id %q", cfg.Id)
	}

	if cfg.DataDirectory == "" {
		return nil, fmt.Errorf("missing or empty data directory")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if cfg.StateMachine == nil {
		return nil, fmt.Errorf("missing state machine")
	}

	if cfg.MinElectionTimeout == 0 {
		cfg.MinElectionTimeout = 500 * time.Millisecond
	}

	if cfg.MaxElectionTimeout == 0 {
		cfg.MaxElectionTimeout = 1000 * time.Millisecond
	}

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	}

	if cfg.MaxLogBytes == 0 {
		cfg.MaxLogBytes = 64 * 1024 * 1024
	}

	if cfg.SnapshotChunkBytes == 0 {
		cfg.SnapshotChunkBytes = DefaultSnapshotChunkBytes
	}

	dataDirectory := path.Join(cfg.DataDirectory, string(cfg.Id))

	persistentStorePath := path.Join(dataDirectory, "persistent-state.json")
	persistentStore := NewPersistentStore(persistentStorePath)

	logPath := path.Join(dataDirectory, "log.data")
	memLog := NewMemLog(logPath)

	cluster := NewClusterView(cfg.Id, cfg.Servers)

	s := &Server{
		Cfg: cfg,
		Log: cfg.Logger,

		Id:            cfg.Id,
		LocalAddress:  sdata.LocalAddress,
		PublicAddress: sdata.PublicAddress,

		persistentStore: persistentStore,
		log:             memLog,
		cluster:         cluster,

		rpcChan:      make(chan IncomingRPCMsg),
		submitChan:   make(chan submitRequest),
		statusChan:   make(chan chan Status),
		snapshotChan: make(chan struct{}),

		stopChan: make(chan struct{}),
	}

	return s, nil
}

func (s *Server) Start(errorChan chan<- error) error {
	s.Log.Debug(1, "starting")

	s.errorChan = errorChan

	if err := s.persistentStore.Open(); err != nil {
		return fmt.Errorf("cannot open persistent store: %w", err)
	}

	if err := s.log.Open(); err != nil {
		return fmt.Errorf("cannot open log: %w", err)
	}

	ctx, err := NewReplicaContext(s.persistentStore, s.log, s.cluster)
	if err != nil {
		return fmt.Errorf("cannot create replica context: %w", err)
	}
	s.ctx = ctx

	s.Log.Debug(1, "initial persistent state: currentTerm %d, votedFor %q",
		ctx.CurrentTerm(), ctx.VotedForString())

	s.snapshots = NewSnapshotPipeline(ctx, s.Cfg.StateMachine, s.Log,
		s.Cfg.SnapshotChunkBytes, s.Cfg.MaxLogBytes)
	s.replication = NewReplicationHandler(ctx, s.Cfg.StateMachine, s.snapshots, s.Log)

	s.roles = NewRoleStateMachine(ctx, s, s.Log, RoleCfg{
		MinElectionTimeout: s.Cfg.MinElectionTimeout,
		MaxElectionTimeout: s.Cfg.MaxElectionTimeout,
		HeartbeatInterval:  s.Cfg.HeartbeatInterval,
	}, time.Now().UnixNano())

	s.submitter = NewCommandSubmitter(ctx, s.roles, s.Log)
	ctx.Events.OnCommandApplied(s.submitter.OnCommandApplied)

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("cannot start http server: %w", err)
	}
	s.Log.Info("listening on %s", s.LocalAddress)

	s.httpClient = newHTTPClient()

	s.roles.Start()

	s.wg.Add(1)
	go s.main()

	s.Log.Debug(1, "started")

	return nil
}

func (s *Server) Stop() {
	s.Log.Debug(1, "stopping")

	close(s.stopChan)
	s.wg.Wait()

	s.Log.Debug(1, "stopped")
}

// SubmitCommand is the entry point external collaborators (client sessions,
// distributed primitives) call to submit a command for replication. reply
// is invoked once, on the replica's executor.
func (s *Server) SubmitCommand(req *RPCSubmitCommandRequest, reply ReplyFunc) {
	select {
	case s.submitChan <- submitRequest{req: req, reply: reply}:
	case <-s.stopChan:
		reply(RPCSubmitCommandResponse{Id: req.Id, ErrorMessage: "server stopped"})
	}
}

// Status blocks until the executor has produced a consistent snapshot of
// the replica's role/term/commit/apply state.
func (s *Server) Status() Status {
	reply := make(chan Status, 1)

	select {
	case s.statusChan <- reply:
	case <-s.stopChan:
		return Status{Id: s.Id}
	}

	select {
	case status := <-reply:
		return status
	case <-s.stopChan:
		return Status{Id: s.Id}
	}
}

// TriggerSnapshot asks the executor to build and install a snapshot ahead
// of the maxLogBytes threshold, for operator-initiated compaction.
func (s *Server) TriggerSnapshot() {
	select {
	case s.snapshotChan <- struct{}{}:
	case <-s.stopChan:
	}
}

func (s *Server) main() {
	defer s.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			s.Log.Error("panic: %s\n%s", msg, trace)

			s.errorChan <- fmt.Errorf("panic: %s", msg)
			s.shutdown()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			s.shutdown()
			return

		case <-s.roles.HeartbeatTickerChan():
			s.roles.OnHeartbeatTicker()

		case <-s.roles.ElectionTimerChan():
			s.roles.OnElectionTimer()

		case incomingMsg := <-s.rpcChan:
			s.onRPCMsg(incomingMsg.SourceId, incomingMsg.Msg)

		case sub := <-s.submitChan:
			s.submitter.SubmitCommand(sub.req, sub.reply)

		case reply := <-s.statusChan:
			reply <- Status{
				Id:          s.Id,
				Role:        s.roles.State(),
				Term:        s.ctx.CurrentTerm(),
				CommitIndex: s.ctx.CommitIndex(),
				LastApplied: s.ctx.LastApplied(),
			}

		case <-s.snapshotChan:
			s.snapshots.Compact()

		case err := <-s.snapshots.DoneChan():
			s.snapshots.Finish(err)
		}
	}
}

func (s *Server) shutdown() {
	s.Log.Debug(1, "shutting down")

	s.roles.Stop()
	s.stopHTTPServer()

	s.log.Close()
	s.persistentStore.Close()

	close(s.rpcChan)
}

func (s *Server) onRPCMsg(sourceId ServerId, msg RPCMsg) {
	s.Log.Debug(2, "received %v from %s", msg, sourceId)

	switch msgv := msg.(type) {
	case *RPCRequestVoteRequest:
		res := s.replication.RequestVote(msgv)
		s.SendMsg(sourceId, &res)

	case *RPCRequestVoteResponse:
		s.roles.OnVoteGranted(sourceId, msgv.VoteGranted)

	case *RPCAppendEntriesRequest:
		res, revert := s.replication.AppendEntries(msgv)
		s.SendMsg(sourceId, &res)

		if msgv.LeaderId != "" {
			s.roles.OnAppendEntriesSeen()
		}
		if revert {
			// The reply above already carries the term used to decide
			// success; the transition happens only after it has been sent.
			s.roles.RevertToFollower()
		}

	case *RPCAppendEntriesResponse:
		s.roles.AdvanceReplicationCursor(sourceId, msgv)

	default:
		s.Log.Error("unexpected message %v from %s", msg, sourceId)
	}
}

package main

import (
	"fmt"
	"net"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-raft/internal/config"
	"github.com/galdor/go-raft/pkg/raft"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Raft    config.RaftCfg     `json:"raft"`
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)
	v.CheckObject("raft", &cfg.Raft)
}

// Service wires the raft engine (pkg/raft), the key-value state machine
// (store.go) and the administrative HTTP API together.
type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	store      *Store
	raftServer *raft.Server
	apiServer  *APIServer
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddArgument("id", "the server identifier")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	instanceId := s.Program.ArgumentValue("id")

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	raftServerCfg := s.Cfg.Raft.Servers[raft.ServerId(instanceId)]
	host, _, _ := net.SplitHostPort(string(raftServerCfg.LocalAddress))

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               net.JoinHostPort(host, "8081"),
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	s.store = NewStore()

	if err := s.initRaftServer(); err != nil {
		return err
	}

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initRaftServer() error {
	instanceId := raft.ServerId(s.Service.Program.ArgumentValue("id"))

	logger := s.Log.Child("raft", log.Data{
		"instance": instanceId,
	})

	minTimeout, maxTimeout, heartbeat, maxLogBytes, chunkBytes := s.Cfg.Raft.ServerCfg()

	serverCfg := raft.ServerCfg{
		Id:      instanceId,
		Servers: s.Cfg.Raft.Servers,

		DataDirectory: s.Cfg.Raft.DataDirectory,

		Logger: logger,

		MinElectionTimeout: minTimeout,
		MaxElectionTimeout: maxTimeout,
		HeartbeatInterval:  heartbeat,

		MaxLogBytes:        maxLogBytes,
		SnapshotChunkBytes: chunkBytes,

		StateMachine: s.store,
	}

	server, err := raft.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("cannot create raft server: %w", err)
	}

	s.raftServer = server

	return nil
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	if err := s.raftServer.Start(ss.ErrorChan()); err != nil {
		return fmt.Errorf("cannot start raft server: %w", err)
	}

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.raftServer.Stop()
}

func (s *Service) Terminate(ss *service.Service) {
}

// submitCommand blocks the calling HTTP handler goroutine until the raft
// engine's executor replies with exactly one response per request, or
// returns a timeout error after 5 seconds without a reply.
func (s *Service) submitCommand(command string, args []byte) ([]byte, error) {
	done := make(chan raft.RPCSubmitCommandResponse, 1)

	req := &raft.RPCSubmitCommandRequest{
		Id:      raft.NewRequestId(),
		Command: command,
		Args:    args,
	}

	s.raftServer.SubmitCommand(req, func(res raft.RPCSubmitCommandResponse) {
		done <- res
	})

	select {
	case res := <-done:
		if res.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", res.ErrorMessage)
		}
		return res.Result, nil

	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("timed out waiting for command to apply")
	}
}

package raft

import (
	"encoding/json"
	"fmt"

	"github.com/galdor/go-uuid"
)

// RequestId correlates a request to its response across the transport.
type RequestId string

func NewRequestId() RequestId {
	return RequestId(uuid.MustGenerate(uuid.V4).String())
}

type RPCMsg interface {
	GetType() string
	GetTerm() Term

	fmt.Stringer
}

type IncomingRPCMsg struct {
	SourceId ServerId
	Msg      RPCMsg
}

type RPCRequestVoteRequest struct {
	Id           RequestId
	Term         Term
	CandidateId  ServerId
	LastLogIndex LogIndex
	LastLogTerm  Term
}

func (msg *RPCRequestVoteRequest) GetType() string { return "requestVoteRequest" }
func (msg *RPCRequestVoteRequest) GetTerm() Term    { return msg.Term }

func (msg *RPCRequestVoteRequest) String() string {
	return fmt.Sprintf("RequestVoteRequest{id: %s, term: %d, candidateId: %q, "+
		"lastLogIndex: %d, lastLogTerm: %d}",
		msg.Id, msg.Term, msg.CandidateId, msg.LastLogIndex, msg.LastLogTerm)
}

type RPCRequestVoteResponse struct {
	Id          RequestId
	Term        Term
	VoteGranted bool
}

func (msg *RPCRequestVoteResponse) GetType() string { return "requestVoteResponse" }
func (msg *RPCRequestVoteResponse) GetTerm() Term    { return msg.Term }

func (msg *RPCRequestVoteResponse) String() string {
	return fmt.Sprintf("RequestVoteResponse{id: %s, term: %d, voteGranted: %v}",
		msg.Id, msg.Term, msg.VoteGranted)
}

type RPCAppendEntriesRequest struct {
	Id           RequestId
	Term         Term
	LeaderId     ServerId
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []Entry
	CommitIndex  LogIndex
}

func (msg *RPCAppendEntriesRequest) GetType() string { return "appendEntriesRequest" }
func (msg *RPCAppendEntriesRequest) GetTerm() Term    { return msg.Term }

func (msg *RPCAppendEntriesRequest) String() string {
	return fmt.Sprintf("AppendEntriesRequest{id: %s, term: %d, leaderId: %q, "+
		"prevLogIndex: %d, prevLogTerm: %d, %d entries, commitIndex: %d}",
		msg.Id, msg.Term, msg.LeaderId, msg.PrevLogIndex, msg.PrevLogTerm,
		len(msg.Entries), msg.CommitIndex)
}

type RPCAppendEntriesResponse struct {
	Id           RequestId
	Term         Term
	Success      bool
	LastLogIndex LogIndex
}

func (msg *RPCAppendEntriesResponse) GetType() string { return "appendEntriesResponse" }
func (msg *RPCAppendEntriesResponse) GetTerm() Term    { return msg.Term }

func (msg *RPCAppendEntriesResponse) String() string {
	return fmt.Sprintf("AppendEntriesResponse{id: %s, term: %d, success: %v, "+
		"lastLogIndex: %d}", msg.Id, msg.Term, msg.Success, msg.LastLogIndex)
}

type RPCSubmitCommandRequest struct {
	Id      RequestId
	Command string
	Args    []byte
}

func (msg *RPCSubmitCommandRequest) GetType() string { return "submitCommandRequest" }
func (msg *RPCSubmitCommandRequest) GetTerm() Term    { return 0 }

func (msg *RPCSubmitCommandRequest) String() string {
	return fmt.Sprintf("SubmitCommandRequest{id: %s, command: %q, %d bytes}",
		msg.Id, msg.Command, len(msg.Args))
}

type RPCSubmitCommandResponse struct {
	Id           RequestId
	Result       []byte
	ErrorMessage string
}

func (msg *RPCSubmitCommandResponse) GetType() string { return "submitCommandResponse" }
func (msg *RPCSubmitCommandResponse) GetTerm() Term    { return 0 }

func (msg *RPCSubmitCommandResponse) String() string {
	if msg.ErrorMessage != "" {
		return fmt.Sprintf("SubmitCommandResponse{id: %s, error: %q}",
			msg.Id, msg.ErrorMessage)
	}
	return fmt.Sprintf("SubmitCommandResponse{id: %s, %d bytes}",
		msg.Id, len(msg.Result))
}

func EncodeRPCMsg(msg RPCMsg) ([]byte, error) {
	value := struct {
		Type  string `json:"type"`
		Value RPCMsg `json:"value"`
	}{
		Type:  msg.GetType(),
		Value: msg,
	}

	return json.Marshal(value)
}

func DecodeRPCMsg(data []byte) (RPCMsg, error) {
	var value struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}

	var msg RPCMsg

	switch value.Type {
	case "requestVoteRequest":
		msg = &RPCRequestVoteRequest{}

	case "requestVoteResponse":
		msg = &RPCRequestVoteResponse{}

	case "appendEntriesRequest":
		msg = &RPCAppendEntriesRequest{}

	case "appendEntriesResponse":
		msg = &RPCAppendEntriesResponse{}

	case "submitCommandRequest":
		msg = &RPCSubmitCommandRequest{}

	case "submitCommandResponse":
		msg = &RPCSubmitCommandResponse{}

	default:
		return nil, fmt.Errorf("unknown message type %q", value.Type)
	}

	if err := json.Unmarshal(value.Value, &msg); err != nil {
		return nil, err
	}

	return msg, nil
}

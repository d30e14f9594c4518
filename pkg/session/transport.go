package session

import (
	"context"

	"github.com/galdor/go-raft/pkg/raft"
)

// OpenSessionRequest/Response, KeepAliveRequest/Response and
// CloseSessionRequest are plain request/response structs rather than a
// builder pattern.
type OpenSessionRequest struct {
	ClientId     string
	Name         string
	StateMachine string
	Timeout      int64 // milliseconds
}

type OpenSessionResponse struct {
	SessionId Id
	Timeout   int64
}

type KeepAliveRequest struct {
	SessionIds       []Id
	CommandSequences []int64
	EventIndexes     []int64
}

type KeepAliveResponse struct {
	Leader  raft.ServerId
	Members []raft.ServerId
}

type CloseSessionRequest struct {
	SessionId Id
}

// Transport is the narrow RPC seam the manager needs from the cluster. A
// concrete implementation adapts these three calls onto whatever wire
// protocol the deployment's client library speaks; nothing in this package
// assumes HTTP+JSON the way pkg/raft's own peer transport does.
type Transport interface {
	OpenSession(ctx context.Context, req OpenSessionRequest) (OpenSessionResponse, error)
	KeepAlive(ctx context.Context, req KeepAliveRequest) (KeepAliveResponse, error)
	CloseSession(ctx context.Context, req CloseSessionRequest) error
}

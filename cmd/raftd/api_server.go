package main

import (
	"github.com/galdor/go-service/pkg/shttp"
)

// APIServer is the administrative/client-facing HTTP surface: it is a thin
// layer over Service.submitCommand and the engine's own read-side
// accessors.
type APIServer struct {
	Service *Service
}

func NewAPIServer(s *Service) (*APIServer, error) {
	api := APIServer{
		Service: s,
	}

	return &api, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/store", "GET", api.hStoreGET)
	api.Route("/store/:key", "GET", api.hStoreKeyGET)
	api.Route("/store/:key", "PUT", api.hStoreKeyPUT)
	api.Route("/store/:key", "DELETE", api.hStoreKeyDELETE)

	api.Route("/status", "GET", api.hStatusGET)
	api.Route("/snapshot", "POST", api.hSnapshotPOST)
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) hStoreGET(h *shttp.Handler) {
	keys := api.Service.store.Keys()
	h.ReplyJSON(200, keys)
}

func (api *APIServer) hStoreKeyGET(h *shttp.Handler) {
	key := h.PathVariable("key")

	value, found := api.Service.store.Get(key)
	if !found {
		h.ReplyError(404, "unknown_key", "unknown key %q", key)
		return
	}

	h.ReplyJSON(200, OpPut{Key: key, Value: value})
}

func (api *APIServer) hStoreKeyPUT(h *shttp.Handler) {
	key := h.PathVariable("key")

	var body struct {
		Value string `json:"value"`
	}
	if err := h.JSONRequestData(&body); err != nil {
		h.ReplyError(400, "invalid_request_body", "invalid request body: %v", err)
		return
	}

	op := OpPut{Key: key, Value: body.Value}

	if _, err := api.Service.submitCommand("put", op.Encode()); err != nil {
		h.ReplyError(500, "write_error", "cannot write key: %v", err)
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hStoreKeyDELETE(h *shttp.Handler) {
	key := h.PathVariable("key")

	op := OpDelete{Key: key}

	if _, err := api.Service.submitCommand("delete", op.Encode()); err != nil {
		h.ReplyError(500, "delete_error", "cannot delete key: %v", err)
		return
	}

	h.ReplyEmpty(204)
}

type clusterStatus struct {
	Id          string `json:"id"`
	Role        string `json:"role"`
	Term        int64  `json:"term"`
	CommitIndex int64  `json:"commitIndex"`
	LastApplied int64  `json:"lastApplied"`
}

func (api *APIServer) hStatusGET(h *shttp.Handler) {
	status := api.Service.raftServer.Status()
	h.ReplyJSON(200, clusterStatus{
		Id:          string(status.Id),
		Role:        string(status.Role),
		Term:        int64(status.Term),
		CommitIndex: int64(status.CommitIndex),
		LastApplied: int64(status.LastApplied),
	})
}

// hSnapshotPOST triggers an out-of-band compaction, useful for operators who
// do not want to wait for maxLogBytes to be crossed naturally.
func (api *APIServer) hSnapshotPOST(h *shttp.Handler) {
	api.Service.raftServer.TriggerSnapshot()
	h.ReplyEmpty(204)
}

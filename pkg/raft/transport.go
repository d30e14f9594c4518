package raft

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

func newHTTPClient() *http.Client {
	transport := http.Transport{
		Proxy: http.ProxyFromEnvironment,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 10 * time.Second,
		}).DialContext,

		MaxIdleConns: 30,

		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := http.Client{
		Timeout:   10 * time.Second,
		Transport: &transport,
	}

	return &client
}

func (s *Server) startHTTPServer() error {
	listener, err := net.Listen("tcp", string(s.LocalAddress))
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.LocalAddress, err)
	}

	s.httpServer = &http.Server{
		Addr:              string(s.LocalAddress),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           s,
	}

	go func() {
		defer func() {
			if value := recover(); value != nil {
				msg := RecoverValueString(value)
				trace := StackTrace(10)
				s.Log.Error("panic: %s\n%s", msg, trace)
			}
		}()

		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.errorChan <- fmt.Errorf("server error: %w", err)
			return
		}
	}()

	return nil
}

func (s *Server) stopHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.httpServer.Shutdown(ctx)
}

// SendMsg sends msg to a single recipient asynchronously, so the caller's
// executor never blocks on a peer's response latency. It satisfies
// RoleTransport.
func (s *Server) SendMsg(recipientId ServerId, msg RPCMsg) {
	s.Log.Debug(2, "sending %v to %s", msg, recipientId)

	msgData, err := EncodeRPCMsg(msg)
	if err != nil {
		s.Log.Error("cannot encode message: %v", err)
		return
	}

	recipient, found := s.Cfg.Servers[recipientId]
	if !found {
		s.Log.Error("unknown recipient id %q", recipientId)
		return
	}

	address := recipient.PublicAddress

	uri := url.URL{
		Scheme: "http",
		Host:   string(address),
	}

	req, err := http.NewRequest("POST", uri.String(), bytes.NewReader(msgData))
	if err != nil {
		s.Log.Error("cannot create http request: %v", err)
		return
	}

	req.Header.Set("X-Raft-Source-Id", string(s.Id))

	go s.sendMsgRequest(address, msg, req)
}

func (s *Server) sendMsgRequest(address ServerAddress, msg RPCMsg, req *http.Request) {
	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			s.Log.Error("cannot send request: panic: %s\n%s", msg, trace)
		}
	}()

	res, err := s.httpClient.Do(req)
	if err != nil {
		s.Log.Error("cannot send %v to %s: %v", msg, address, err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != 204 {
		var errMsg string

		body, err := io.ReadAll(res.Body)
		if err == nil {
			errMsg = string(body)

			if idx := strings.IndexAny(errMsg, "\r\n"); idx > 0 {
				errMsg = errMsg[:idx]
			}

			if errMsg != "" {
				errMsg = ": " + errMsg
			}
		} else {
			s.Log.Error("cannot read response from %s: %v", address, err)
		}

		s.Log.Error("http request to %s failed with status %d%s",
			address, res.StatusCode, errMsg)
	}
}

// BroadcastMsg sends msg to every remote member of the cluster. It
// satisfies RoleTransport.
func (s *Server) BroadcastMsg(msg RPCMsg) {
	for id := range s.Cfg.Servers {
		if id == s.Id {
			continue
		}

		s.SendMsg(id, msg)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sourceId := req.Header.Get("X-Raft-Source-Id")
	if sourceId == "" {
		s.replyError(w, 400, "missing or empty X-Raft-Source-Id header field")
		return
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		s.replyError(w, 500, "cannot read request body: %v", err)
		return
	}

	msg, err := DecodeRPCMsg(data)
	if err != nil {
		s.replyError(w, 400, "invalid message: %v", err)
		return
	}

	if submitReq, ok := msg.(*RPCSubmitCommandRequest); ok {
		s.serveSubmitCommand(w, submitReq)
		return
	}

	s.replyEmpty(w, 204)

	incomingMsg := IncomingRPCMsg{
		SourceId: ServerId(sourceId),
		Msg:      msg,
	}

	select {
	case <-s.stopChan:
		return
	default:
	}

	s.rpcChan <- incomingMsg
}

// serveSubmitCommand answers synchronously over HTTP: the client protocol
// expects one response per request, so the reply callback writes straight to
// the ResponseWriter instead of round-tripping through s.rpcChan.
func (s *Server) serveSubmitCommand(w http.ResponseWriter, req *RPCSubmitCommandRequest) {
	done := make(chan RPCSubmitCommandResponse, 1)

	s.SubmitCommand(req, func(res RPCSubmitCommandResponse) {
		done <- res
	})

	res := <-done

	data, err := EncodeRPCMsg(&res)
	if err != nil {
		s.replyError(w, 500, "cannot encode response: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
	w.Write(data)
}

func (s *Server) replyEmpty(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

func (s *Server) replyText(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.WriteHeader(status)
	fmt.Fprintf(w, format, args...)
}

func (s *Server) replyError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	s.Log.Error(format, args...)
	s.replyText(w, status, format, args...)
}

var _ RoleTransport = (*Server)(nil)

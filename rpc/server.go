// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
)

// AuthMethod binds a session to the signer of the request. It must be the
// first call of a session.
const AuthMethod = "auth"

type (
	// AuthParams are the params of AuthMethod.
	AuthParams struct {
		Address types.Address `json:"address"`
	}

	// AuthResult is the result of AuthMethod.
	AuthResult struct {
		SessionID string        `json:"session_id"`
		Address   types.Address `json:"address"`
		Server    types.Address `json:"server"`
	}
)

// HandlerFunc handles the request of an authenticated session. A non-nil
// result is countersigned, errors become unsigned error responses.
type HandlerFunc func(ctx context.Context, s *Session, p Payload) (interface{}, error)

// Session is the server side state of one connection.
type Session struct {
	ID string

	history *History

	mu           stdsync.Mutex
	address      types.Address
	authed       bool
	authInFlight bool
}

func newSession(tolerance time.Duration) *Session {
	return &Session{ID: uuid.New().String(), history: NewHistory(tolerance)}
}

// Address returns the address the session is bound to.
func (s *Session) Address() (types.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.authed
}

// History returns the session's proof-of-history anchor.
func (s *Session) History() *History { return s.history }

func (s *Session) beginAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authed {
		return ErrAlreadyAuthenticated
	}
	if s.authInFlight {
		return ErrAuthInFlight
	}
	s.authInFlight = true
	return nil
}

func (s *Session) endAuth(addr *types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authInFlight = false
	if addr != nil {
		s.address = *addr
		s.authed = true
	}
}

// ServerConfig configures a Server. Zero values are replaced by defaults.
type ServerConfig struct {
	ReplayWindow int
	Tolerance    time.Duration
	Clock        clock.Clock
	Metrics      *Metrics
	Verifier     *Verifier
	// CheckOrigin is passed to the websocket upgrader.
	CheckOrigin func(r *http.Request) bool
}

// Server serves NitroRPC sessions. It countersigns every successful
// response with its signer.
type Server struct {
	log.Embedding
	pkgsync.Closer

	signer    wallet.Signer
	replay    *ReplayWindow
	verifier  Verifier
	tolerance time.Duration
	clock     clock.Clock
	metrics   *Metrics
	upgrader  websocket.Upgrader

	mu       stdsync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[string]Transport
}

// NewServer returns a server without handlers.
func NewServer(signer wallet.Signer, cfg ServerConfig) (*Server, error) {
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.Verifier == nil {
		cfg.Verifier = &DefaultVerifier
	}
	replay, err := NewReplayWindow(cfg.ReplayWindow)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Embedding: log.MakeEmbedding(log.WithField("server", signer.Address())),
		signer:    signer,
		replay:    replay,
		verifier:  *cfg.Verifier,
		tolerance: cfg.Tolerance,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		upgrader:  websocket.Upgrader{CheckOrigin: cfg.CheckOrigin},
		handlers:  make(map[string]HandlerFunc),
		conns:     make(map[string]Transport),
	}
	s.OnCloseAlways(s.closeConns)
	return s, nil
}

// Address returns the countersigning address.
func (s *Server) Address() types.Address { return s.signer.Address() }

// Handle registers the handler of a method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *Server) handler(method string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

// ServeHTTP upgrades the request to a websocket and serves the session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t, err := Upgrade(&s.upgrader, w, r)
	if err != nil {
		s.Log().WithError(err).Warn("Rejecting connection")
		return
	}
	if err := s.Serve(r.Context(), t); err != nil {
		s.Log().WithError(err).Warn("Session ended")
	}
}

// Serve runs a session over t until the transport or ctx closes. Requests
// are handled concurrently.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	sess := newSession(s.tolerance)
	if err := s.register(sess.ID, t); err != nil {
		t.Close()
		return err
	}
	s.metrics.Sessions.Add(1)
	logger := s.Log().WithField("session", sess.ID)
	logger.Debug("Session opened")

	ctx, cancel := context.WithCancel(ctx)
	var wg stdsync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.unregister(sess.ID)
		s.metrics.Sessions.Add(-1)
		if err := t.Close(); err != nil {
			logger.WithError(err).Debug("Closing transport")
		}
		logger.Debug("Session closed")
	}()

	for {
		data, err := t.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrConnClosed) || ctx.Err() != nil {
				return nil
			}
			return errors.WithMessage(err, "receiving request")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := json.Marshal(s.handle(ctx, sess, data))
			if err != nil {
				logger.WithError(err).Error("Encoding response")
				return
			}
			if err := t.Send(ctx, out); err != nil {
				logger.WithError(err).Warn("Sending response")
			}
		}()
	}
}

func (s *Server) register(id string, t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsClosed() {
		return ErrConnClosed
	}
	s.conns[id] = t
	return nil
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.conns {
		if err := t.Close(); err != nil {
			s.Log().WithError(err).Debugf("Closing session %s", id)
		}
	}
}

// handle turns one raw request into its response.
func (s *Server) handle(ctx context.Context, sess *Session, data []byte) *Response {
	start := s.clock.Now()
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.metrics.Errors.With("method", "").Add(1)
		return NewErrorResponse(0, errors.WithMessage(ErrMalformedMessage, err.Error()), uint64(start.UnixMilli()))
	}
	method := req.Req.Method
	s.metrics.Requests.With("method", method).Add(1)
	defer func() {
		s.metrics.Latency.With("method", method).Observe(s.clock.Since(start).Seconds())
	}()

	result, err := s.dispatch(ctx, sess, &req)
	if err != nil {
		s.metrics.Errors.With("method", method).Add(1)
		s.Log().WithField("session", sess.ID).WithError(err).Debugf("Request %d (%s) failed", req.Req.RequestID, method)
		return NewErrorResponse(req.Req.RequestID, err, uint64(s.clock.Now().UnixMilli()))
	}
	p, err := NewPayload(req.Req.RequestID, method, result, sess.history.Next(s.clock.Now()))
	if err != nil {
		return NewErrorResponse(req.Req.RequestID, err, uint64(s.clock.Now().UnixMilli()))
	}
	resp := &Response{Res: p}
	if err := resp.Sign(s.signer); err != nil {
		s.Log().WithError(err).Error("Countersigning response")
		return NewErrorResponse(req.Req.RequestID, errors.New("countersigning failed"), p.Timestamp)
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, sess *Session, req *Request) (interface{}, error) {
	if err := sess.history.Check(req.Req.Timestamp); err != nil {
		return nil, err
	}
	if req.Req.Method == AuthMethod {
		return s.authenticate(sess, req)
	}
	addr, ok := sess.Address()
	if !ok {
		return nil, errors.WithMessagef(ErrUnauthenticated, "call %s first", AuthMethod)
	}
	if err := s.verifier.VerifySingle(req, addr); err != nil {
		return nil, err
	}
	// Only verified requests consume their id.
	if err := s.replay.Observe(sess.ID, req.Req.RequestID); err != nil {
		return nil, err
	}
	h, ok := s.handler(req.Req.Method)
	if !ok {
		return nil, errors.WithMessagef(ErrMethodNotFound, "%q", req.Req.Method)
	}
	return h(ctx, sess, req.Req)
}

func (s *Server) authenticate(sess *Session, req *Request) (interface{}, error) {
	var params AuthParams
	if err := req.Req.DecodeParams(&params); err != nil {
		return nil, err
	}
	if err := s.verifier.VerifySingle(req, params.Address); err != nil {
		return nil, err
	}
	if err := s.replay.Observe(sess.ID, req.Req.RequestID); err != nil {
		return nil, err
	}
	if err := sess.beginAuth(); err != nil {
		return nil, err
	}
	sess.endAuth(&params.Address)
	s.Log().WithField("session", sess.ID).Infof("Session bound to %s", params.Address)
	return AuthResult{SessionID: sess.ID, Address: params.Address, Server: s.Address()}, nil
}

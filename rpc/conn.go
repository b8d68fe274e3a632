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
	stdsync "sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
)

// Conn is the client side of a NitroRPC connection. Calls are multiplexed
// by request id, each waits for its own response.
type Conn struct {
	log.Embedding
	pkgsync.Closer

	transport Transport
	signer    wallet.Signer
	server    types.Address
	verifier  Verifier
	clock     clock.Clock

	nextID  uint64
	mu      stdsync.Mutex
	pending map[uint64]chan *Response
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithVerifier sets the verifier for server countersignatures.
func WithVerifier(v Verifier) ConnOption {
	return func(c *Conn) { c.verifier = v }
}

// WithClock sets the clock for request timestamps.
func WithClock(cl clock.Clock) ConnOption {
	return func(c *Conn) { c.clock = cl }
}

// NewConn starts a client connection over t. Requests are signed by signer
// and responses must be countersigned by server.
func NewConn(t Transport, signer wallet.Signer, server types.Address, opts ...ConnOption) *Conn {
	c := &Conn{
		Embedding: log.MakeEmbedding(log.WithField("client", signer.Address())),
		transport: t,
		signer:    signer,
		server:    server,
		verifier:  DefaultVerifier,
		clock:     clock.New(),
		pending:   make(map[uint64]chan *Response),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.OnCloseAlways(func() {
		if err := c.transport.Close(); err != nil {
			c.Log().WithError(err).Warn("Closing transport")
		}
	})
	go c.recvRoutine()
	return c
}

// Call sends a signed request and decodes the countersigned result into
// result. The call fails with ErrTimeout when ctx is done first. Calls are
// never retried.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	resp, err := c.Do(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Res.Params, result); err != nil {
		return errors.Wrapf(err, "decoding result of %s", method)
	}
	return nil
}

// Do sends a signed request and returns the verified response.
func (c *Conn) Do(ctx context.Context, method string, params interface{}) (*Response, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	id := atomic.AddUint64(&c.nextID, 1)
	p, err := NewPayload(id, method, params, uint64(c.clock.Now().UnixMilli()))
	if err != nil {
		return nil, err
	}
	req := &Request{Req: p}
	if err := req.Sign(c.signer); err != nil {
		return nil, errors.WithMessage(err, "signing request")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, data); err != nil {
		return nil, errors.WithMessagef(err, "sending %s", method)
	}
	select {
	case resp := <-ch:
		return c.check(method, resp)
	case <-ctx.Done():
		return nil, errors.WithMessagef(ErrTimeout, "%s (request %d): %v", method, id, ctx.Err())
	case <-c.Closed():
		return nil, ErrConnClosed
	}
}

func (c *Conn) check(method string, resp *Response) (*Response, error) {
	if resp.IsError() {
		var res ErrorResult
		if err := json.Unmarshal(resp.Res.Params, &res); err != nil {
			return nil, errors.WithMessage(ErrMalformedMessage, "error response without message")
		}
		return nil, &RemoteError{Method: method, Message: res.Error}
	}
	if err := c.verifier.VerifySingle(resp, c.server); err != nil {
		return nil, errors.WithMessage(ErrMissingCountersignature, err.Error())
	}
	return resp, nil
}

func (c *Conn) recvRoutine() {
	defer func() {
		if err := c.Close(); err != nil && !pkgsync.IsAlreadyClosedError(err) {
			c.Log().WithError(err).Warn("Closing connection")
		}
	}()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.OnCloseAlways(cancel)
	for {
		data, err := c.transport.Recv(ctx)
		if err != nil {
			if !c.IsClosed() && !errors.Is(err, ErrConnClosed) {
				c.Log().WithError(err).Error("Receiving response")
			}
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.Log().WithError(err).Warn("Dropping malformed response")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.Res.RequestID]
		c.mu.Unlock()
		if !ok {
			c.Log().Warnf("Dropping response to unknown request %d", resp.Res.RequestID)
			continue
		}
		select {
		case ch <- &resp:
		default:
			c.Log().Warnf("Dropping second response to request %d", resp.Res.RequestID)
		}
	}
}

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
	"net/http"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	pkgsync "polycry.pt/poly-go/sync"
)

// Transport is a full-duplex message stream, ordered per direction.
type Transport interface {
	// Send writes one message. It is safe for concurrent use.
	Send(ctx context.Context, msg []byte) error
	// Recv blocks until the next message arrives. It must not be called
	// concurrently.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

const (
	defaultWriteWait  = 10 * time.Second
	defaultRecvBuffer = 64
)

type received struct {
	msg []byte
	err error
}

// WSTransport is a Transport over a websocket connection. One goroutine
// reads from the connection, writes are serialized.
type WSTransport struct {
	pkgsync.Closer

	conn      *websocket.Conn
	writeMu   stdsync.Mutex
	writeWait time.Duration
	recv      chan received
}

// NewWSTransport wraps an established websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		conn:      conn,
		writeWait: defaultWriteWait,
		recv:      make(chan received, defaultRecvBuffer),
	}
	t.OnCloseAlways(func() {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(t.writeWait))
		t.conn.Close()
	})
	go t.readRoutine()
	return t
}

// Dial opens a websocket transport to url.
func Dial(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return NewWSTransport(conn), nil
}

// Upgrade upgrades an HTTP request to a websocket transport.
func Upgrade(u *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "upgrading connection")
	}
	return NewWSTransport(conn), nil
}

func (t *WSTransport) readRoutine() {
	defer close(t.recv)
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if t.IsClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = ErrConnClosed
			}
			select {
			case t.recv <- received{err: err}:
			case <-t.Closed():
			}
			return
		}
		select {
		case t.recv <- received{msg: msg}:
		case <-t.Closed():
			return
		}
	}
}

func (t *WSTransport) Send(ctx context.Context, msg []byte) error {
	if t.IsClosed() {
		return ErrConnClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(t.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "setting write deadline")
	}
	return errors.Wrap(t.conn.WriteMessage(websocket.TextMessage, msg), "writing message")
}

func (t *WSTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case r, ok := <-t.recv:
		if !ok {
			return nil, ErrConnClosed
		}
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pipeEnd is one end of an in-memory transport.
type pipeEnd struct {
	closer *pkgsync.Closer
	in     <-chan []byte
	out    chan<- []byte
}

// NewPipe returns two connected in-memory transports. Closing either end
// closes both.
func NewPipe() (Transport, Transport) {
	ab := make(chan []byte, defaultRecvBuffer)
	ba := make(chan []byte, defaultRecvBuffer)
	closer := new(pkgsync.Closer)
	return &pipeEnd{closer: closer, in: ba, out: ab}, &pipeEnd{closer: closer, in: ab, out: ba}
}

func (p *pipeEnd) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.closer.Closed():
		return ErrConnClosed
	default:
	}
	select {
	case p.out <- append([]byte(nil), msg...):
		return nil
	case <-p.closer.Closed():
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closer.Closed():
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	if err := p.closer.Close(); err != nil && !pkgsync.IsAlreadyClosedError(err) {
		return err
	}
	return nil
}

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

package rpc_test

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/wallet"
	wtest "perun.network/perun-nitro-backend/wallet/test"
)

const testTimeout = 5 * time.Second

type echoParams struct {
	Text string `json:"text"`
}

type testServer struct {
	*rpc.Server
	serverAcc *wallet.Account
	release   chan struct{}
}

func newTestServer(t *testing.T, rng *rand.Rand) *testServer {
	accs, _ := wtest.NewRandomAccounts(rng, 1)
	s, err := rpc.NewServer(accs[0], rpc.ServerConfig{ReplayWindow: 16})
	require.NoError(t, err)
	ts := &testServer{Server: s, serverAcc: accs[0], release: make(chan struct{})}
	s.Handle("echo", func(_ context.Context, _ *rpc.Session, p rpc.Payload) (interface{}, error) {
		var params echoParams
		if err := p.DecodeParams(&params); err != nil {
			return nil, err
		}
		return params, nil
	})
	s.Handle("block", func(ctx context.Context, _ *rpc.Session, _ rpc.Payload) (interface{}, error) {
		select {
		case <-ts.release:
		case <-ctx.Done():
		}
		return "released", nil
	})
	s.Handle("whoami", func(_ context.Context, sess *rpc.Session, _ rpc.Payload) (interface{}, error) {
		addr, _ := sess.Address()
		return addr, nil
	})
	t.Cleanup(func() { s.Close() })
	return ts
}

// connect serves one pipe session and returns an authenticated client.
func (s *testServer) connect(t *testing.T, acc wallet.Signer) (*rpc.Conn, rpc.Transport) {
	client, server := rpc.NewPipe()
	go s.Serve(context.Background(), server) //nolint:errcheck
	conn := rpc.NewConn(client, acc, s.Address())
	t.Cleanup(func() { conn.Close() })
	return conn, client
}

func authenticate(t *testing.T, conn *rpc.Conn, acc wallet.Signer) rpc.AuthResult {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var res rpc.AuthResult
	require.NoError(t, conn.Call(ctx, rpc.AuthMethod, rpc.AuthParams{Address: acc.Address()}, &res))
	return res
}

func TestServerAuthAndCall(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	accs, _ := wtest.NewRandomAccounts(rng, 1)
	conn, _ := s.connect(t, accs[0])
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var echo echoParams
	err := conn.Call(ctx, "echo", echoParams{Text: "hi"}, &echo)
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, rpc.ErrUnauthenticated.Error())

	res := authenticate(t, conn, accs[0])
	require.Equal(t, accs[0].Address(), res.Address)
	require.Equal(t, s.Address(), res.Server)
	require.NotEmpty(t, res.SessionID)

	require.NoError(t, conn.Call(ctx, "echo", echoParams{Text: "hi"}, &echo))
	require.Equal(t, "hi", echo.Text)

	err = conn.Call(ctx, rpc.AuthMethod, rpc.AuthParams{Address: accs[0].Address()}, nil)
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, rpc.ErrAlreadyAuthenticated.Error())

	err = conn.Call(ctx, "nope", nil, nil)
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, rpc.ErrMethodNotFound.Error())

	err = conn.Call(ctx, "echo", map[string]int{"unknown": 1}, nil)
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, rpc.ErrInvalidParams.Error())
}

func TestAuthRequiresClaimedSigner(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	accs, addrs := wtest.NewRandomAccounts(rng, 2)
	conn, _ := s.connect(t, accs[0])
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	err := conn.Call(ctx, rpc.AuthMethod, rpc.AuthParams{Address: addrs[1]}, nil)
	var remote *rpc.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Contains(t, remote.Message, rpc.ErrInvalidSignature.Error())

	// A failed attempt does not block a correct one.
	authenticate(t, conn, accs[0])
}

func TestResponsesAreCountersigned(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	accs, _ := wtest.NewRandomAccounts(rng, 1)
	conn, _ := s.connect(t, accs[0])
	authenticate(t, conn, accs[0])
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	resp, err := conn.Do(ctx, "whoami", nil)
	require.NoError(t, err)
	require.NoError(t, rpc.VerifySingle(resp, s.Address()))

	first := resp.Res.Timestamp
	resp, err = conn.Do(ctx, "whoami", nil)
	require.NoError(t, err)
	require.Greater(t, resp.Res.Timestamp, first, "server timestamps form a chain")

	// A client expecting another server rejects the countersignature.
	other, _ := wtest.NewRandomAccounts(rng, 1)
	client, server := rpc.NewPipe()
	go s.Serve(context.Background(), server) //nolint:errcheck
	wrong := rpc.NewConn(client, accs[0], other[0].Address())
	defer wrong.Close()
	err = wrong.Call(ctx, rpc.AuthMethod, rpc.AuthParams{Address: accs[0].Address()}, nil)
	require.ErrorIs(t, err, rpc.ErrMissingCountersignature)
}

func TestErrorResponsesAreUnsignedAndDuplicatesRejected(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	accs, _ := wtest.NewRandomAccounts(rng, 1)
	client, server := rpc.NewPipe()
	go s.Serve(context.Background(), server) //nolint:errcheck
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	send := func(req *rpc.Request) *rpc.Response {
		data, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, client.Send(ctx, data))
		data, err = client.Recv(ctx)
		require.NoError(t, err)
		var resp rpc.Response
		require.NoError(t, json.Unmarshal(data, &resp))
		return &resp
	}

	p, err := rpc.NewPayload(1, rpc.AuthMethod, rpc.AuthParams{Address: accs[0].Address()}, uint64(time.Now().UnixMilli()))
	require.NoError(t, err)
	req := &rpc.Request{Req: p}
	require.NoError(t, req.Sign(accs[0]))
	resp := send(req)
	require.False(t, resp.IsError())
	require.Len(t, resp.Sig, 1)

	resp = send(req)
	require.True(t, resp.IsError())
	require.Empty(t, resp.Sig)
	require.Contains(t, string(resp.Res.Params), rpc.ErrDuplicateRequest.Error())

	// Requests far behind the last response timestamp are stale.
	p, err = rpc.NewPayload(2, "whoami", nil, 1)
	require.NoError(t, err)
	req = &rpc.Request{Req: p}
	require.NoError(t, req.Sign(accs[0]))
	resp = send(req)
	require.True(t, resp.IsError())
	require.Contains(t, string(resp.Res.Params), rpc.ErrStaleTimestamp.Error())

	require.NoError(t, client.Send(ctx, []byte("not json")))
	data, err := client.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, resp))
	require.True(t, resp.IsError())
}

func TestConcurrentCallsAndTimeout(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	accs, _ := wtest.NewRandomAccounts(rng, 1)
	conn, _ := s.connect(t, accs[0])
	authenticate(t, conn, accs[0])

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := conn.Call(short, "block", nil, nil)
	require.ErrorIs(t, err, rpc.ErrTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var blocked string
	blockedDone := make(chan error, 1)
	go func() { blockedDone <- conn.Call(ctx, "block", nil, &blocked) }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			var echo echoParams
			text := strings.Repeat("x", i)
			if err := conn.Call(ctx, "echo", echoParams{Text: text}, &echo); err != nil {
				t.Error(err)
				return
			}
			if echo.Text != text {
				t.Errorf("got %q, want %q", echo.Text, text)
			}
		}()
	}
	wg.Wait()

	close(s.release)
	require.NoError(t, <-blockedDone)
	require.Equal(t, "released", blocked)
}

func TestWebsocketTransport(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	hs := httptest.NewServer(s)
	defer hs.Close()
	accs, _ := wtest.NewRandomAccounts(rng, 1)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	tr, err := rpc.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"))
	require.NoError(t, err)
	conn := rpc.NewConn(tr, accs[0], s.Address())
	defer conn.Close()

	authenticate(t, conn, accs[0])
	var echo echoParams
	require.NoError(t, conn.Call(ctx, "echo", echoParams{Text: "over the wire"}, &echo))
	require.Equal(t, "over the wire", echo.Text)

	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.Call(ctx, "echo", echoParams{}, nil), rpc.ErrConnClosed)
}

func TestRejectedRequestKeepsID(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := newTestServer(t, rng)
	accs, _ := wtest.NewRandomAccounts(rng, 2)
	client, server := rpc.NewPipe()
	go s.Serve(context.Background(), server) //nolint:errcheck
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	send := func(req *rpc.Request) *rpc.Response {
		data, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, client.Send(ctx, data))
		data, err = client.Recv(ctx)
		require.NoError(t, err)
		var resp rpc.Response
		require.NoError(t, json.Unmarshal(data, &resp))
		return &resp
	}

	p, err := rpc.NewPayload(1, rpc.AuthMethod, rpc.AuthParams{Address: accs[0].Address()}, uint64(time.Now().UnixMilli()))
	require.NoError(t, err)
	resp := send(&rpc.Request{Req: p})
	require.True(t, resp.IsError(), "unsigned auth must fail")

	req := &rpc.Request{Req: p}
	require.NoError(t, req.Sign(accs[0]))
	resp = send(req)
	require.False(t, resp.IsError(), "signed retry with the same id: %s", resp.Res.Params)

	p, err = rpc.NewPayload(2, "whoami", nil, uint64(time.Now().UnixMilli()))
	require.NoError(t, err)
	forged := &rpc.Request{Req: p}
	require.NoError(t, forged.Sign(accs[1]))
	resp = send(forged)
	require.True(t, resp.IsError())
	require.Contains(t, string(resp.Res.Params), rpc.ErrInvalidSignature.Error())

	req = &rpc.Request{Req: p}
	require.NoError(t, req.Sign(accs[0]))
	resp = send(req)
	require.False(t, resp.IsError(), "signed retry with the same id: %s", resp.Res.Params)
}

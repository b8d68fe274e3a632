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

package test

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	stdsync "sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"perun.network/perun-nitro-backend/channel"
	chtest "perun.network/perun-nitro-backend/channel/test"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/node"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/wallet"
)

// InitialBalance is credited to every participant's ledger account.
const InitialBalance = 1_000_000_000

// NodeIdx is the participant index of the node in Env channels.
const NodeIdx = 1

// Env is a node serving one network with in-memory custody and queue. The
// node signs with Accounts[NodeIdx] of the embedded setup.
type Env struct {
	*chtest.Setup
	Node      *node.Node
	Custody   *custody.Custody
	Ledger    *custody.MemoryLedger
	Clock     *clock.Mock
	Queue     *queue.Queue
	Submitter *Submitter
}

// NewEnv sets up a node and credits all participants.
func NewEnv(t *testing.T, rng *rand.Rand) *Env {
	s := chtest.NewSetup(t, rng, 2)
	mock := clock.NewMock()
	ledger := custody.NewMemoryLedger()
	c := custody.New(custody.Config{
		Backend:            s.Backend,
		DefaultAdjudicator: channel.NewConsensusTransition(s.Backend),
		Ledger:             ledger,
		Clock:              mock,
	})
	for _, p := range s.Parts {
		require.NoError(t, ledger.Deposit(context.Background(), p, s.Asset, big.NewInt(InitialBalance)))
	}

	q := queue.New(queue.NewMemoryStore(), queue.Config{}, nil)
	sub := &Submitter{}
	_, err := q.Register(s.Backend.ChainID, sub)
	require.NoError(t, err)

	signer := s.Accounts[NodeIdx]
	server, err := rpc.NewServer(signer, rpc.ServerConfig{})
	require.NoError(t, err)
	n, err := node.New(signer, server, q, &node.Network{
		NetworkConfig: node.NetworkConfig{ChainID: s.Backend.ChainID, Adjudicator: s.Channel.Adjudicator},
		Custody:       c,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		server.Close()
		q.Close()
	})
	return &Env{Setup: s, Node: n, Custody: c, Ledger: ledger, Clock: mock, Queue: q, Submitter: sub}
}

// Dial serves a pipe session and returns an unauthenticated connection
// signing with acc.
func (e *Env) Dial(t *testing.T, acc wallet.Signer) *rpc.Conn {
	client, server := rpc.NewPipe()
	go e.Node.Server().Serve(context.Background(), server) //nolint:errcheck
	conn := rpc.NewConn(client, acc, e.Node.Server().Address())
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Connect is Dial followed by authentication.
func (e *Env) Connect(t *testing.T, acc wallet.Signer) *rpc.Conn {
	conn := e.Dial(t, acc)
	require.NoError(t, conn.Call(context.Background(), rpc.AuthMethod, rpc.AuthParams{Address: acc.Address()}, nil))
	return conn
}

// Balance returns the ledger balance of participant idx.
func (e *Env) Balance(t *testing.T, idx int) *big.Int {
	b, err := e.Ledger.Balance(context.Background(), e.Parts[idx], e.Asset)
	require.NoError(t, err)
	return b
}

// Submitter records submitted actions. It fails terminally while an error
// is set.
type Submitter struct {
	mu        stdsync.Mutex
	err       error
	submitted []*queue.Action
}

// SetErr makes all following submissions fail with err, or succeed if err
// is nil.
func (s *Submitter) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Submit implements queue.Submitter.
func (s *Submitter) Submit(_ context.Context, a *queue.Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", queue.Terminal(s.err)
	}
	s.submitted = append(s.submitted, a.Clone())
	return fmt.Sprintf("0x%02x", len(s.submitted)), nil
}

// Submitted returns the submitted actions in order.
func (s *Submitter) Submitted() []*queue.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*queue.Action(nil), s.submitted...)
}

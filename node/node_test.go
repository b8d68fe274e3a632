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

package node_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/node"
	nodetest "perun.network/perun-nitro-backend/node/test"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/rpc"
	wtest "perun.network/perun-nitro-backend/wallet/test"
	"perun.network/perun-nitro-backend/wire"
)

const user = 0

// activate opens the env's channel as the user and joins it. The node joins
// during open.
func activate(t *testing.T, e *nodetest.Env, conn *rpc.Conn) {
	ctx := context.Background()
	var res node.ChannelResult
	require.NoError(t, conn.Call(ctx, node.MethodOpenChannel, node.OpenParams{
		ChainID: e.Backend.ChainID,
		Channel: wire.MakeChannel(e.Channel),
		State:   wire.MakeState(e.Initial.WithoutSigs()),
	}, &res))
	require.Equal(t, e.ID, res.Record.ID)
	require.Equal(t, "INITIAL", res.Record.Status, "node deposits on open")
	require.NotEmpty(t, res.Record.Initial.Sigs[nodetest.NodeIdx])

	require.NoError(t, conn.Call(ctx, node.MethodJoinChannel, node.JoinParams{
		ChannelID: e.ID,
		Amount:    wire.MakeAmount(e.Deposit(user)),
		Sig:       e.Initial.Sigs[user],
	}, &res))
	require.Equal(t, "ACTIVE", res.Record.Status)
}

// userSigned drops the node's signature from st.
func userSigned(st *channel.State) *channel.State {
	st.Sigs[nodetest.NodeIdx] = nil
	return st
}

func stateParams(e *nodetest.Env, candidate, proof *channel.State) node.StateParams {
	return node.StateParams{
		ChannelID: e.ID,
		State:     wire.MakeState(candidate),
		Proofs:    wire.MakeStates([]*channel.State{proof}),
	}
}

func call(t *testing.T, conn *rpc.Conn, method string, params interface{}) node.ChannelResult {
	var res node.ChannelResult
	require.NoError(t, conn.Call(context.Background(), method, params, &res))
	return res
}

func requireRemoteError(t *testing.T, err error, want error) {
	var remote *rpc.RemoteError
	require.True(t, errors.As(err, &remote), "want remote error, got %v", err)
	require.Contains(t, remote.Message, want.Error())
}

func TestGetConfigAndPing(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	ctx := context.Background()

	var pong string
	require.NoError(t, conn.Call(ctx, node.MethodPing, nil, &pong))
	require.Equal(t, node.Pong, pong)

	var cfg node.Config
	require.NoError(t, conn.Call(ctx, node.MethodGetConfig, nil, &cfg))
	require.Equal(t, e.Parts[nodetest.NodeIdx], cfg.ServerAddress)
	require.Len(t, cfg.Networks, 1)
	require.Equal(t, e.Backend.ChainID, cfg.Networks[0].ChainID)
	require.Equal(t, e.Backend.Domain, cfg.Networks[0].Domain)
}

func TestPaymentsAndCooperativeClose(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	activate(t, e, conn)

	prev := e.Initial
	for i := 0; i < 3; i++ {
		next := userSigned(e.Next(prev, channel.IntentOperate, 10))
		res := call(t, conn, node.MethodCheckpoint, stateParams(e, next, prev))
		signed, err := wire.ToState(*res.State)
		require.NoError(t, err)
		require.True(t, e.Verify(nodetest.NodeIdx, signed, signed.Sigs[nodetest.NodeIdx]), "countersigned")
		require.Equal(t, next.Version, res.Record.LastValid.Version)
		require.Equal(t, string(queue.TypeCheckpoint), res.Action.Type)
		require.Equal(t, string(queue.StatusPending), res.Action.Status)
		prev = signed
	}

	final := userSigned(e.Next(prev, channel.IntentFinalize, 0))
	res := call(t, conn, node.MethodCloseChannel, stateParams(e, final, prev))
	require.Equal(t, "FINAL", res.Record.Status)
	require.Equal(t, string(queue.TypeClose), res.Action.Type)

	userAlloc := new(big.Int).Sub(e.Deposit(user), big.NewInt(30))
	nodeAlloc := new(big.Int).Add(e.Deposit(nodetest.NodeIdx), big.NewInt(30))
	require.Zero(t, new(big.Int).Sub(big.NewInt(nodetest.InitialBalance), big.NewInt(30)).Cmp(e.Balance(t, user)))
	require.Zero(t, new(big.Int).Add(big.NewInt(nodetest.InitialBalance), big.NewInt(30)).Cmp(e.Balance(t, nodetest.NodeIdx)))
	require.Zero(t, userAlloc.Cmp(final.Allocations[user].Amount))
	require.Zero(t, nodeAlloc.Cmp(final.Allocations[nodetest.NodeIdx].Amount))

	require.NoError(t, e.Queue.ProcessAll(context.Background()))
	submitted := e.Submitter.Submitted()
	require.Len(t, submitted, 4)
	for _, a := range submitted[:3] {
		require.Equal(t, queue.TypeCheckpoint, a.Type)
	}
	require.Equal(t, queue.TypeClose, submitted[3].Type)
}

func TestNodeRefusesToLoseFunds(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	activate(t, e, conn)
	ctx := context.Background()

	loss := userSigned(e.Next(e.Initial, channel.IntentOperate, -10))
	err := conn.Call(ctx, node.MethodCheckpoint, stateParams(e, loss, e.Initial), nil)
	requireRemoteError(t, err, node.ErrRefused)

	between := e.Next(e.Initial, channel.IntentOperate, 10)
	skip := userSigned(e.Next(between, channel.IntentOperate, 10))
	err = conn.Call(ctx, node.MethodCheckpoint, stateParams(e, skip, between), nil)
	requireRemoteError(t, err, channel.ErrVersionIncrement)

	forged := e.Next(e.Initial, channel.IntentOperate, 10)
	forged.Sigs[user] = forged.Sigs[nodetest.NodeIdx]
	forged.Sigs[nodetest.NodeIdx] = nil
	err = conn.Call(ctx, node.MethodCheckpoint, stateParams(e, forged, e.Initial), nil)
	require.Error(t, err)

	actions, err := e.Queue.List(ctx, e.ID)
	require.NoError(t, err)
	require.Empty(t, actions, "rejected states are not enqueued")
}

func TestOnlyParticipantsMayAccessChannels(t *testing.T) {
	rng := pkgtest.Prng(t)
	e := nodetest.NewEnv(t, rng)
	activate(t, e, e.Connect(t, e.Accounts[user]))

	outsiders, _ := wtest.NewRandomAccounts(rng, 1)
	conn := e.Connect(t, outsiders[0])
	err := conn.Call(context.Background(), node.MethodGetChannel, node.ChannelParams{ChannelID: e.ID}, nil)
	requireRemoteError(t, err, node.ErrNotParticipant)
}

func TestChallengeAndReclaim(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	activate(t, e, conn)

	res := call(t, conn, node.MethodCheckpoint, stateParams(e, userSigned(e.Next(e.Initial, channel.IntentOperate, 5)), e.Initial))
	signed, err := wire.ToState(*res.State)
	require.NoError(t, err)

	res = call(t, conn, node.MethodChallengeChannel, node.ChallengeParams{
		ChannelID:     e.ID,
		State:         wire.MakeState(signed),
		Proofs:        wire.MakeStates([]*channel.State{e.Initial}),
		ChallengerSig: e.SignChallenge(user, signed),
	})
	require.Equal(t, "DISPUTE", res.Record.Status)
	require.NotZero(t, res.Record.ChallengeExpiry)
	require.Equal(t, string(queue.TypeChallenge), res.Action.Type)

	err = conn.Call(context.Background(), node.MethodReclaim, node.ChannelParams{ChannelID: e.ID}, nil)
	require.Error(t, err, "challenge still running")

	e.Clock.Add(e.Channel.Challenge + 1)
	res = call(t, conn, node.MethodReclaim, node.ChannelParams{ChannelID: e.ID})
	require.Equal(t, "FINAL", res.Record.Status)
	require.Nil(t, res.Action)
}

func TestChallengerMustBeSession(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	activate(t, e, conn)

	err := conn.Call(context.Background(), node.MethodChallengeChannel, node.ChallengeParams{
		ChannelID:     e.ID,
		State:         wire.MakeState(e.Initial),
		ChallengerSig: e.SignChallenge(nodetest.NodeIdx, e.Initial),
	}, nil)
	require.Error(t, err)
	require.Equal(t, "ACTIVE", call(t, conn, node.MethodGetChannel, node.ChannelParams{ChannelID: e.ID}).Record.Status)
}

func TestResizeThroughNode(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	activate(t, e, conn)
	before := e.Balance(t, user)

	resized := userSigned(e.Resize(e.Initial, 100, 0))
	res := call(t, conn, node.MethodResizeChannel, stateParams(e, resized, e.Initial))
	require.Equal(t, string(queue.TypeResize), res.Action.Type)
	require.Zero(t, new(big.Int).Sub(before, big.NewInt(100)).Cmp(e.Balance(t, user)))
	signed, err := wire.ToState(*res.State)
	require.NoError(t, err)

	grab := userSigned(e.Resize(signed, 0, 100))
	err = conn.Call(context.Background(), node.MethodResizeChannel, stateParams(e, grab, signed), nil)
	requireRemoteError(t, err, node.ErrRefused)
}

func TestResubmitFailedAction(t *testing.T) {
	e := nodetest.NewEnv(t, pkgtest.Prng(t))
	conn := e.Connect(t, e.Accounts[user])
	activate(t, e, conn)
	ctx := context.Background()

	e.Submitter.SetErr(errors.New("reverted"))
	res := call(t, conn, node.MethodCheckpoint, stateParams(e, userSigned(e.Next(e.Initial, channel.IntentOperate, 1)), e.Initial))
	require.NoError(t, e.Queue.ProcessAll(ctx))

	var actions []wire.Action
	require.NoError(t, conn.Call(ctx, node.MethodGetActions, node.ChannelParams{ChannelID: e.ID}, &actions))
	require.Len(t, actions, 1)
	require.Equal(t, string(queue.StatusFailed), actions[0].Status)
	require.Contains(t, actions[0].LastError, "reverted")

	e.Submitter.SetErr(nil)
	var a wire.Action
	require.NoError(t, conn.Call(ctx, node.MethodResubmitAction, node.ActionParams{ID: res.Action.ID}, &a))
	require.Equal(t, string(queue.StatusPending), a.Status)
	require.NoError(t, e.Queue.ProcessAll(ctx))

	require.NoError(t, conn.Call(ctx, node.MethodGetActions, node.ChannelParams{ChannelID: e.ID}, &actions))
	require.Equal(t, string(queue.StatusCompleted), actions[0].Status)
	require.NotEmpty(t, actions[0].TxRef)
}

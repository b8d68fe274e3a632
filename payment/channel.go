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

package payment

import (
	"context"
	"math/big"
	stdsync "sync"

	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/node"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
	"perun.network/perun-nitro-backend/wire"
)

// ErrBadCountersignature is returned if the node's signature on an
// accepted state does not verify.
var ErrBadCountersignature = errors.New("node countersignature is invalid")

// Channel is a payment channel between a client and the node.
type Channel struct {
	client  *Client
	backend *channel.Backend
	params  *channel.Channel
	id      channel.ID

	mu    stdsync.Mutex
	state *channel.State // latest state signed by both
	prev  *channel.State
}

// ID returns the channel id.
func (c *Channel) ID() channel.ID { return c.id }

// State returns a copy of the latest fully signed state.
func (c *Channel) State() *channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Balance returns the client's current allocation.
func (c *Channel) Balance() *big.Int {
	return c.State().Allocations[ClientIdx].Amount
}

// SendPayment moves amount from the client to the node.
func (c *Channel) SendPayment(ctx context.Context, amount *big.Int) error {
	return c.update(ctx, node.MethodCheckpoint, func(next *channel.State) error {
		next.Intent = channel.IntentOperate
		next.Data = []byte{}
		mine := next.Allocations[ClientIdx].Amount
		if mine.Cmp(amount) < 0 {
			return errors.Errorf("insufficient channel balance: have %v, want to pay %v", mine, amount)
		}
		mine.Sub(mine, amount)
		next.Allocations[NodeIdx].Amount.Add(next.Allocations[NodeIdx].Amount, amount)
		return nil
	})
}

// Resize locks delta more of the client's funds in the channel, or
// releases -delta.
func (c *Channel) Resize(ctx context.Context, delta *big.Int) error {
	return c.update(ctx, node.MethodResizeChannel, func(next *channel.State) error {
		deltas := []*big.Int{new(big.Int).Set(delta), new(big.Int)}
		data, err := channel.EncodeResizeData(deltas)
		if err != nil {
			return err
		}
		next.Intent = channel.IntentResize
		next.Data = data
		next.Allocations[ClientIdx].Amount.Add(next.Allocations[ClientIdx].Amount, delta)
		return nil
	})
}

// Settle closes the channel cooperatively with the current allocations.
func (c *Channel) Settle(ctx context.Context) error {
	return c.update(ctx, node.MethodCloseChannel, func(next *channel.State) error {
		next.Intent = channel.IntentFinalize
		next.Data = []byte{}
		return nil
	})
}

// update proposes a successor of the current state built by fn and
// accepts the node's countersigned version.
func (c *Channel) update(ctx context.Context, method string, fn func(*channel.State) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.WithoutSigs()
	next.Version++
	if err := fn(next); err != nil {
		return err
	}
	sig, err := c.backend.Sign(c.client.signer, c.id, next)
	if err != nil {
		return err
	}
	next.Sigs = []wtypes.Sig{sig, nil}

	var res node.ChannelResult
	if err := c.client.conn.Call(ctx, method, node.StateParams{
		ChannelID: c.id,
		State:     wire.MakeState(next),
		Proofs:    c.proofs(method),
	}, &res); err != nil {
		return errors.WithMessagef(err, "%s to version %d", method, next.Version)
	}
	if res.State == nil {
		return errors.Errorf("%s: node returned no state", method)
	}
	return c.acceptLocked(ctx, *res.State)
}

// Challenge starts a dispute with the latest fully signed state.
func (c *Channel) Challenge(ctx context.Context) (*wire.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sig, err := c.backend.SignChallenge(c.client.signer, c.id, c.state)
	if err != nil {
		return nil, err
	}
	var res node.ChannelResult
	if err := c.client.conn.Call(ctx, node.MethodChallengeChannel, node.ChallengeParams{
		ChannelID:     c.id,
		State:         wire.MakeState(c.state),
		Proofs:        c.challengeProofs(),
		ChallengerSig: sig,
	}, &res); err != nil {
		return nil, errors.WithMessage(err, "challenging")
	}
	return &res.Record, nil
}

// Reclaim finalizes the channel after an expired challenge.
func (c *Channel) Reclaim(ctx context.Context) (*wire.Record, error) {
	var res node.ChannelResult
	if err := c.client.conn.Call(ctx, node.MethodReclaim, node.ChannelParams{ChannelID: c.id}, &res); err != nil {
		return nil, errors.WithMessage(err, "reclaiming")
	}
	return &res.Record, nil
}

// Status returns the node's record of the channel.
func (c *Channel) Status(ctx context.Context) (*wire.Record, error) {
	var res node.ChannelResult
	if err := c.client.conn.Call(ctx, node.MethodGetChannel, node.ChannelParams{ChannelID: c.id}, &res); err != nil {
		return nil, err
	}
	return &res.Record, nil
}

// Actions returns the settlement actions of the channel.
func (c *Channel) Actions(ctx context.Context) ([]wire.Action, error) {
	var as []wire.Action
	if err := c.client.conn.Call(ctx, node.MethodGetActions, node.ChannelParams{ChannelID: c.id}, &as); err != nil {
		return nil, err
	}
	return as, nil
}

// proofs returns the adjudication proofs for a successor of the current
// state. Resizes always prove the state they resize. c.mu must be held.
func (c *Channel) proofs(method string) []wire.State {
	if !c.client.proofs && method != node.MethodResizeChannel {
		return nil
	}
	return []wire.State{wire.MakeState(c.state)}
}

// challengeProofs proves the current state by its predecessor.
func (c *Channel) challengeProofs() []wire.State {
	if !c.client.proofs || c.prev == nil || c.state.Version == 0 {
		return nil
	}
	return []wire.State{wire.MakeState(c.prev)}
}

func (c *Channel) accept(ctx context.Context, w wire.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptLocked(ctx, w)
}

// acceptLocked checks the node's signature on w and makes it the current
// state.
func (c *Channel) acceptLocked(ctx context.Context, w wire.State) error {
	st, err := wire.ToState(w)
	if err != nil {
		return err
	}
	if err := st.Validate(c.params); err != nil {
		return err
	}
	if len(st.Sigs) != len(c.params.Participants) {
		return errors.WithMessage(ErrBadCountersignature, "missing signatures")
	}
	ok, err := c.backend.Verify(ctx, c.client.Node(), c.id, st, st.Sigs[NodeIdx])
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadCountersignature
	}
	c.prev, c.state = c.state, st
	return nil
}

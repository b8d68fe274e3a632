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

package node

import (
	"context"

	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/wire"
)

// Pong is the result of ping.
const Pong = "pong"

func (n *Node) ping(context.Context, *rpc.Session, rpc.Payload) (interface{}, error) {
	return Pong, nil
}

func (n *Node) getConfig(context.Context, *rpc.Session, rpc.Payload) (interface{}, error) {
	cfg := Config{ServerAddress: n.signer.Address()}
	for _, id := range n.networkIDs() {
		cfg.Networks = append(cfg.Networks, n.networks[id].NetworkConfig)
	}
	return cfg, nil
}

// openChannel records a channel. If the node participates, it signs the
// initial state and deposits its allocation right away.
func (n *Node) openChannel(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params OpenParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	nw, err := n.network(params.ChainID)
	if err != nil {
		return nil, err
	}
	ch, err := wire.ToChannel(params.Channel)
	if err != nil {
		return nil, err
	}
	if err := authorize(s, ch); err != nil {
		return nil, err
	}
	initial, err := wire.ToState(params.State)
	if err != nil {
		return nil, err
	}
	r, err := nw.Custody.Open(ctx, ch, initial)
	if err != nil {
		return nil, err
	}
	if self := r.Channel.Index(n.signer.Address()); self >= 0 {
		sig, err := nw.Custody.Backend().Sign(n.signer, r.ID, r.Initial)
		if err != nil {
			return nil, errors.WithMessage(err, "signing initial state")
		}
		id := r.ID
		if r, err = nw.Custody.Join(ctx, id, n.signer.Address(), r.Remaining(self), sig); err != nil {
			return nil, errors.WithMessagef(err, "channel %v opened, joining as participant %d", id, self)
		}
	}
	return ChannelResult{Record: wire.MakeRecord(r)}, nil
}

func (n *Node) joinChannel(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params JoinParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	nw, r, err := n.lookup(ctx, s, params.ChannelID)
	if err != nil {
		return nil, err
	}
	amount, err := wire.ToAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	addr, _ := s.Address()
	if r, err = nw.Custody.Join(ctx, r.ID, addr, amount, params.Sig); err != nil {
		return nil, err
	}
	return ChannelResult{Record: wire.MakeRecord(r)}, nil
}

// checkpoint countersigns and records a newer state. A final state closes
// the channel.
func (n *Node) checkpoint(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	return n.settle(ctx, s, p, func(c *custody.Custody, id channel.ID, cand *channel.State, proofs []*channel.State) (*custody.Record, queue.Type, error) {
		r, err := c.Checkpoint(ctx, id, cand, proofs)
		if cand.IsFinal() {
			return r, queue.TypeClose, err
		}
		return r, queue.TypeCheckpoint, err
	})
}

func (n *Node) closeChannel(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	return n.settle(ctx, s, p, func(c *custody.Custody, id channel.ID, cand *channel.State, proofs []*channel.State) (*custody.Record, queue.Type, error) {
		r, err := c.Close(ctx, id, cand, proofs)
		return r, queue.TypeClose, err
	})
}

func (n *Node) resizeChannel(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	return n.settle(ctx, s, p, func(c *custody.Custody, id channel.ID, cand *channel.State, proofs []*channel.State) (*custody.Record, queue.Type, error) {
		r, err := c.Resize(ctx, id, cand, proofs)
		return r, queue.TypeResize, err
	})
}

type decideFunc func(c *custody.Custody, id channel.ID, candidate *channel.State, proofs []*channel.State) (*custody.Record, queue.Type, error)

// settle countersigns the candidate, lets decide apply it to the custody
// and enqueues the decision for on-chain settlement.
func (n *Node) settle(ctx context.Context, s *rpc.Session, p rpc.Payload, decide decideFunc) (interface{}, error) {
	var params StateParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	nw, r, err := n.lookup(ctx, s, params.ChannelID)
	if err != nil {
		return nil, err
	}
	candidate, proofs, err := decodeStates(params.State, params.Proofs)
	if err != nil {
		return nil, err
	}
	if err := n.countersign(ctx, nw, r, candidate); err != nil {
		return nil, err
	}
	r, typ, err := decide(nw.Custody, r.ID, candidate, proofs)
	if err != nil {
		return nil, err
	}
	a, err := n.enqueue(ctx, typ, r, candidate, proofs, nil)
	if err != nil {
		return nil, err
	}
	return makeResult(r, candidate, a), nil
}

// challengeChannel starts a dispute. The challenger signature must be the
// session's.
func (n *Node) challengeChannel(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params ChallengeParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	nw, r, err := n.lookup(ctx, s, params.ChannelID)
	if err != nil {
		return nil, err
	}
	candidate, proofs, err := decodeStates(params.State, params.Proofs)
	if err != nil {
		return nil, err
	}
	addr, _ := s.Address()
	ok, err := nw.Custody.Backend().VerifyChallenge(addr, r.ID, candidate, params.ChallengerSig)
	if err != nil {
		return nil, channel.WithKind(channel.KindSignature, err)
	}
	if !ok {
		return nil, channel.NewSignatureError("challenger signature is not by %s", addr)
	}
	if r, err = nw.Custody.Challenge(ctx, r.ID, candidate, proofs, params.ChallengerSig); err != nil {
		return nil, err
	}
	typ := queue.TypeChallenge
	if r.Status == custody.StatusFinal {
		typ = queue.TypeClose
	}
	a, err := n.enqueue(ctx, typ, r, candidate, proofs, params.ChallengerSig)
	if err != nil {
		return nil, err
	}
	return makeResult(r, candidate, a), nil
}

// counterChallenge answers a dispute with a fully signed newer state.
func (n *Node) counterChallenge(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params StateParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	nw, r, err := n.lookup(ctx, s, params.ChannelID)
	if err != nil {
		return nil, err
	}
	candidate, proofs, err := decodeStates(params.State, params.Proofs)
	if err != nil {
		return nil, err
	}
	if r, err = nw.Custody.Counter(ctx, r.ID, candidate, proofs); err != nil {
		return nil, err
	}
	typ := queue.TypeCheckpoint
	if r.Status == custody.StatusFinal {
		typ = queue.TypeClose
	}
	a, err := n.enqueue(ctx, typ, r, candidate, proofs, nil)
	if err != nil {
		return nil, err
	}
	return makeResult(r, candidate, a), nil
}

func (n *Node) reclaim(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params ChannelParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	nw, r, err := n.lookup(ctx, s, params.ChannelID)
	if err != nil {
		return nil, err
	}
	if r, err = nw.Custody.Reclaim(ctx, r.ID); err != nil {
		return nil, err
	}
	return ChannelResult{Record: wire.MakeRecord(r)}, nil
}

func (n *Node) getChannel(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params ChannelParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	_, r, err := n.lookup(ctx, s, params.ChannelID)
	if err != nil {
		return nil, err
	}
	return ChannelResult{Record: wire.MakeRecord(r)}, nil
}

func (n *Node) getActions(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params ChannelParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	if _, _, err := n.lookup(ctx, s, params.ChannelID); err != nil {
		return nil, err
	}
	as, err := n.queue.List(ctx, params.ChannelID)
	if err != nil {
		return nil, err
	}
	return wire.MakeActions(as), nil
}

// resubmitAction gives a failed action a fresh retry budget. Only
// participants of the action's channel may resubmit it.
func (n *Node) resubmitAction(ctx context.Context, s *rpc.Session, p rpc.Payload) (interface{}, error) {
	var params ActionParams
	if err := p.DecodeParams(&params); err != nil {
		return nil, err
	}
	a, err := n.queue.Get(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if _, _, err := n.lookup(ctx, s, a.ChannelID); err != nil {
		return nil, err
	}
	if a, err = n.queue.Resubmit(ctx, a.ID); err != nil {
		return nil, err
	}
	return wire.MakeAction(a), nil
}

func decodeStates(candidate wire.State, proofs []wire.State) (*channel.State, []*channel.State, error) {
	c, err := wire.ToState(candidate)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "candidate")
	}
	ps, err := wire.ToStates(proofs)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "proofs")
	}
	return c, ps, nil
}

func makeResult(r *custody.Record, candidate *channel.State, a *queue.Action) ChannelResult {
	st := wire.MakeState(candidate)
	wa := wire.MakeAction(a)
	return ChannelResult{Record: wire.MakeRecord(r), State: &st, Action: &wa}
}

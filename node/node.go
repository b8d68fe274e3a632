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

// Package node is the facilitating service: it serves NitroRPC methods that
// drive the channel lifecycle, countersigns states as a channel participant
// and enqueues settlement actions.
package node

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
	"perun.network/perun-nitro-backend/wire"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrNotParticipant = errors.New("session address is not a channel participant")
	ErrMissingSig     = errors.New("missing participant signature")
	ErrRefused        = errors.New("node does not sign states that reduce its allocation")
)

// Network is a settlement network served by the node.
type Network struct {
	NetworkConfig
	Custody *custody.Custody
}

// Node binds the RPC methods to the custody engines and the action queue.
type Node struct {
	log.Embedding

	signer   wallet.Signer
	server   *rpc.Server
	queue    *queue.Queue
	networks map[uint64]*Network
}

// New returns a node serving networks through server. The server's signer
// must be signer.
func New(signer wallet.Signer, server *rpc.Server, q *queue.Queue, networks ...*Network) (*Node, error) {
	if !server.Address().Equal(signer.Address()) {
		return nil, errors.New("server and node signer differ")
	}
	n := &Node{
		Embedding: log.MakeEmbedding(log.WithField("node", signer.Address())),
		signer:    signer,
		server:    server,
		queue:     q,
		networks:  make(map[uint64]*Network, len(networks)),
	}
	for _, nw := range networks {
		if nw.Custody.Backend().ChainID != nw.ChainID {
			return nil, errors.Errorf("network %d has custody for chain %d", nw.ChainID, nw.Custody.Backend().ChainID)
		}
		nw.Domain = nw.Custody.Backend().Domain
		n.networks[nw.ChainID] = nw
	}
	n.register()
	return n, nil
}

// Server returns the RPC server.
func (n *Node) Server() *rpc.Server { return n.server }

func (n *Node) register() {
	handlers := map[string]rpc.HandlerFunc{
		MethodPing:             n.ping,
		MethodGetConfig:        n.getConfig,
		MethodOpenChannel:      n.openChannel,
		MethodJoinChannel:      n.joinChannel,
		MethodCheckpoint:       n.checkpoint,
		MethodChallengeChannel: n.challengeChannel,
		MethodCounterChallenge: n.counterChallenge,
		MethodReclaim:          n.reclaim,
		MethodCloseChannel:     n.closeChannel,
		MethodResizeChannel:    n.resizeChannel,
		MethodGetChannel:       n.getChannel,
		MethodGetActions:       n.getActions,
		MethodResubmitAction:   n.resubmitAction,
	}
	for m, h := range handlers {
		n.server.Handle(m, h)
	}
}

func (n *Node) network(chainID uint64) (*Network, error) {
	nw, ok := n.networks[chainID]
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownNetwork, "chain %d", chainID)
	}
	return nw, nil
}

// networkIDs returns the served chain ids in ascending order.
func (n *Node) networkIDs() []uint64 {
	ids := make([]uint64, 0, len(n.networks))
	for id := range n.networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// lookup finds the record of a channel on any network and checks that the
// session's address participates in it.
func (n *Node) lookup(ctx context.Context, s *rpc.Session, id channel.ID) (*Network, *custody.Record, error) {
	for _, chainID := range n.networkIDs() {
		nw := n.networks[chainID]
		r, err := nw.Custody.Status(ctx, id)
		if errors.Is(err, custody.ErrUnknownChannel) {
			continue
		} else if err != nil {
			return nil, nil, err
		}
		if err := authorize(s, &r.Channel); err != nil {
			return nil, nil, err
		}
		return nw, r, nil
	}
	return nil, nil, custody.ErrUnknownChannel
}

func authorize(s *rpc.Session, ch *channel.Channel) error {
	addr, _ := s.Address()
	if ch.Index(addr) < 0 {
		return errors.WithMessagef(ErrNotParticipant, "%s", addr)
	}
	return nil
}

// countersign verifies the signatures of all other participants on
// candidate and adds the node's own if it participates.
func (n *Node) countersign(ctx context.Context, nw *Network, r *custody.Record, candidate *channel.State) error {
	if err := candidate.Validate(&r.Channel); err != nil {
		return err
	}
	want := len(r.Channel.Participants)
	if len(candidate.Sigs) > want {
		return channel.NewSignatureError("need %d signature slots, got %d", want, len(candidate.Sigs))
	}
	for len(candidate.Sigs) < want {
		candidate.Sigs = append(candidate.Sigs, nil)
	}
	b := nw.Custody.Backend()
	self := r.Channel.Index(n.signer.Address())
	for i, p := range r.Channel.Participants {
		if i == self {
			continue
		}
		if len(candidate.Sigs[i]) == 0 {
			return channel.WithKind(channel.KindSignature, errors.WithMessagef(ErrMissingSig, "participant %d", i))
		}
		ok, err := b.Verify(ctx, p, r.ID, candidate, candidate.Sigs[i])
		if err != nil {
			return err
		}
		if !ok {
			return channel.NewSignatureError("signature of participant %d is invalid", i)
		}
	}
	if self < 0 {
		return nil
	}
	if err := accept(r.Current(), candidate, self); err != nil {
		return err
	}
	sig, err := b.Sign(n.signer, r.ID, candidate)
	if err != nil {
		return errors.WithMessage(err, "countersigning")
	}
	candidate.Sigs[self] = sig
	return nil
}

func (n *Node) enqueue(ctx context.Context, typ queue.Type, r *custody.Record, candidate *channel.State, proofs []*channel.State, challengerSig types.Sig) (*queue.Action, error) {
	a, err := n.queue.Enqueue(ctx, typ, r.ID, r.Chain, candidate.Version, wire.MakeSubmission(&r.Channel, candidate, proofs, challengerSig))
	if err != nil {
		return nil, errors.WithMessagef(err, "enqueueing %s", typ)
	}
	return a, nil
}

// accept checks that the node can sign candidate as participant self: it
// must directly follow prev and must neither move the node's funds to
// another destination nor reduce them. Resizes must not lock more of the
// node's funds.
func accept(prev, candidate *channel.State, self int) error {
	if candidate.Intent == channel.IntentResize {
		deltas, err := channel.ValidateResize(prev, candidate)
		if err != nil {
			return err
		}
		if deltas[self].Sign() > 0 {
			return channel.WithKind(channel.KindValidation, errors.WithMessage(ErrRefused, "resize locks node funds"))
		}
		return nil
	}
	if err := channel.ValidateTransition(prev, candidate); err != nil {
		return err
	}
	p, c := prev.Allocations[self], candidate.Allocations[self]
	if !p.Destination.Equal(c.Destination) || c.Amount.Cmp(p.Amount) < 0 {
		return channel.WithKind(channel.KindValidation, errors.WithMessagef(ErrRefused, "allocation %d", self))
	}
	return nil
}

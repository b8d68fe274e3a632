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

// Package payment is a client SDK for payment channels with a NitroRPC
// node. The client is participant 0 of its channels, the node participant
// 1.
package payment

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/channel/types"
	"perun.network/perun-nitro-backend/node"
	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
	"perun.network/perun-nitro-backend/wire"
)

// Participant indices of payment channels.
const (
	ClientIdx = 0
	NodeIdx   = 1
)

// DefaultChallenge is the dispute window of new channels.
const DefaultChallenge = 10 * time.Second

var ErrUnknownNetwork = errors.New("node does not serve network")

// Client opens and operates payment channels over an authenticated
// connection.
type Client struct {
	log.Embedding

	conn   *rpc.Conn
	signer wallet.Signer
	config node.Config
	proofs bool
}

// Option configures a Client.
type Option func(*Client)

// WithProofs sets whether updates carry the previous state as adjudication
// proof. Enabled by default, as required by transition adjudicators.
func WithProofs(enabled bool) Option {
	return func(c *Client) { c.proofs = enabled }
}

// Connect authenticates conn as signer and fetches the node's config.
func Connect(ctx context.Context, conn *rpc.Conn, signer wallet.Signer, opts ...Option) (*Client, error) {
	c := &Client{
		Embedding: log.MakeEmbedding(log.WithField("client", signer.Address())),
		conn:      conn,
		signer:    signer,
		proofs:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := conn.Call(ctx, rpc.AuthMethod, rpc.AuthParams{Address: signer.Address()}, nil); err != nil {
		return nil, errors.WithMessage(err, "authenticating")
	}
	if err := conn.Call(ctx, node.MethodGetConfig, nil, &c.config); err != nil {
		return nil, errors.WithMessage(err, "fetching node config")
	}
	return c, nil
}

// Address returns the client's address.
func (c *Client) Address() wtypes.Address { return c.signer.Address() }

// Node returns the node's address.
func (c *Client) Node() wtypes.Address { return c.config.ServerAddress }

// Network returns the config of a network served by the node.
func (c *Client) Network(chainID uint64) (node.NetworkConfig, error) {
	for _, nw := range c.config.Networks {
		if nw.ChainID == chainID {
			return nw, nil
		}
	}
	return node.NetworkConfig{}, errors.WithMessagef(ErrUnknownNetwork, "chain %d", chainID)
}

// Proposal describes a channel to open.
type Proposal struct {
	Asset       types.Asset
	Balance     *big.Int
	NodeBalance *big.Int
	Challenge   time.Duration
	Nonce       uint64
}

// OpenChannel opens a channel with the node, which deposits NodeBalance,
// and deposits Balance. It returns once the channel is ACTIVE.
func (c *Client) OpenChannel(ctx context.Context, p Proposal) (*Channel, error) {
	nw, err := c.Network(p.Asset.ChainID)
	if err != nil {
		return nil, err
	}
	if p.Challenge == 0 {
		p.Challenge = DefaultChallenge
	}
	ch := &channel.Channel{
		Participants: []wtypes.Address{c.Address(), c.Node()},
		Adjudicator:  nw.Adjudicator,
		Challenge:    p.Challenge,
		Nonce:        p.Nonce,
	}
	initial := &channel.State{
		Intent: channel.IntentInitialize,
		Data:   []byte{},
		Allocations: []channel.Allocation{
			{Destination: c.Address(), Asset: p.Asset, Amount: new(big.Int).Set(p.Balance)},
			{Destination: c.Node(), Asset: p.Asset, Amount: new(big.Int).Set(p.NodeBalance)},
		},
	}
	pch, err := c.newChannel(nw, ch, initial)
	if err != nil {
		return nil, err
	}

	var res node.ChannelResult
	if err := c.conn.Call(ctx, node.MethodOpenChannel, node.OpenParams{
		ChainID: nw.ChainID,
		Channel: wire.MakeChannel(ch),
		State:   wire.MakeState(initial),
	}, &res); err != nil {
		return nil, errors.WithMessage(err, "opening channel")
	}
	sig, err := pch.backend.Sign(c.signer, pch.id, initial)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Call(ctx, node.MethodJoinChannel, node.JoinParams{
		ChannelID: pch.id,
		Amount:    wire.MakeAmount(p.Balance),
		Sig:       sig,
	}, &res); err != nil {
		return nil, errors.WithMessage(err, "joining channel")
	}
	if res.Record.LastValid == nil {
		return nil, errors.Errorf("channel %v not active after join: %s", pch.id, res.Record.Status)
	}
	if err := pch.accept(ctx, *res.Record.LastValid); err != nil {
		return nil, err
	}
	c.Log().WithField("channel", pch.id).Info("Channel active")
	return pch, nil
}

func (c *Client) newChannel(nw node.NetworkConfig, ch *channel.Channel, initial *channel.State) (*Channel, error) {
	b := channel.NewBackend(nw.ChainID, nw.Domain)
	id, err := b.CalcID(ch)
	if err != nil {
		return nil, err
	}
	return &Channel{client: c, backend: b, params: ch, id: id, state: initial.Clone()}, nil
}

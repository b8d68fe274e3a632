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

// Package client submits settlement decisions to EVM custody contracts and
// watches the contracts for settlement events.
package client

import (
	"context"

	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/wire"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// ErrUnknownAction is returned for actions of unknown type.
var ErrUnknownAction = errors.New("unknown action type")

// Checkpoint records candidate on chain.
func (cb *ContractBackend) Checkpoint(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (string, error) {
	return cb.transactState(ctx, "checkpoint", id, candidate, proofs)
}

// Challenge starts a dispute with candidate.
func (cb *ContractBackend) Challenge(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State, challengerSig wtypes.Sig) (string, error) {
	sig := []byte(challengerSig)
	if sig == nil {
		sig = []byte{}
	}
	receipt, err := cb.Transact(ctx, "challenge", id, MakeContractState(id, candidate), makeContractStates(id, proofs), sig)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// Close closes the channel with a final candidate.
func (cb *ContractBackend) Close(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (string, error) {
	return cb.transactState(ctx, "close", id, candidate, proofs)
}

// Resize applies a resize candidate.
func (cb *ContractBackend) Resize(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (string, error) {
	return cb.transactState(ctx, "resize", id, candidate, proofs)
}

func (cb *ContractBackend) transactState(ctx context.Context, method string, id channel.ID, candidate *channel.State, proofs []*channel.State) (string, error) {
	receipt, err := cb.Transact(ctx, method, id, MakeContractState(id, candidate), makeContractStates(id, proofs))
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// Submit sends a queued action to the custody contract. Actions of other
// networks, undecodable payloads and reverted transactions are not retried.
func (cb *ContractBackend) Submit(ctx context.Context, a *queue.Action) (string, error) {
	if a.NetworkID != cb.chainID {
		return "", queue.Terminal(errors.Errorf("%v submitted to network %d", a, cb.chainID))
	}
	d, err := wire.DecodeSubmission(a)
	if err != nil {
		return "", queue.Terminal(err)
	}
	id := a.ChannelID
	var ref string
	switch a.Type {
	case queue.TypeCheckpoint:
		ref, err = cb.Checkpoint(ctx, id, d.Candidate, d.Proofs)
	case queue.TypeChallenge:
		ref, err = cb.Challenge(ctx, id, d.Candidate, d.Proofs, d.ChallengerSig)
	case queue.TypeClose:
		ref, err = cb.Close(ctx, id, d.Candidate, d.Proofs)
	case queue.TypeResize:
		ref, err = cb.Resize(ctx, id, d.Candidate, d.Proofs)
	default:
		return "", queue.Terminal(errors.WithMessagef(ErrUnknownAction, "%q", a.Type))
	}
	if errors.Is(err, ErrTxFailed) {
		return "", queue.Terminal(err)
	}
	return ref, err
}

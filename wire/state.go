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

package wire

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"perun.network/perun-nitro-backend/channel"
	ctypes "perun.network/perun-nitro-backend/channel/types"
	"perun.network/perun-nitro-backend/wallet/types"
)

// Allocation is the wire form of an allocation. Amount is accepted as hex
// or decimal string.
type Allocation struct {
	Destination types.Address         `json:"destination"`
	Token       types.Address         `json:"token"`
	ChainID     uint64                `json:"chain_id"`
	Amount      *math.HexOrDecimal256 `json:"amount"`
}

// State is the wire form of a signed state.
type State struct {
	Intent      uint8         `json:"intent"`
	Version     uint64        `json:"version"`
	Data        hexutil.Bytes `json:"data"`
	Allocations []Allocation  `json:"allocations"`
	Sigs        []types.Sig   `json:"sigs"`
}

// MakeAmount converts an amount to its wire form.
func MakeAmount(x *big.Int) *math.HexOrDecimal256 {
	if x == nil {
		return nil
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set(x))
}

// ToAmount converts a wire amount. Missing amounts are an error.
func ToAmount(x *math.HexOrDecimal256) (*big.Int, error) {
	if x == nil {
		return nil, channel.NewValidationError("missing amount")
	}
	return new(big.Int).Set((*big.Int)(x)), nil
}

// MakeState converts a state to its wire form.
func MakeState(s *channel.State) State {
	w := State{
		Intent:      uint8(s.Intent),
		Version:     s.Version,
		Data:        append(hexutil.Bytes{}, s.Data...),
		Allocations: make([]Allocation, len(s.Allocations)),
		Sigs:        make([]types.Sig, len(s.Sigs)),
	}
	for i, a := range s.Allocations {
		w.Allocations[i] = Allocation{
			Destination: a.Destination,
			Token:       a.Asset.Token,
			ChainID:     a.Asset.ChainID,
			Amount:      MakeAmount(a.Amount),
		}
	}
	for i, sig := range s.Sigs {
		w.Sigs[i] = sig.Clone()
	}
	return w
}

// ToState converts a wire state. Allocations are checked for amounts, the
// state itself is validated against its channel by the caller.
func ToState(w State) (*channel.State, error) {
	s := &channel.State{
		Intent:      channel.Intent(w.Intent),
		Version:     w.Version,
		Data:        append([]byte{}, w.Data...),
		Allocations: make([]channel.Allocation, len(w.Allocations)),
		Sigs:        make([]types.Sig, len(w.Sigs)),
	}
	if !s.Intent.Valid() {
		return nil, channel.NewValidationError("unknown intent %d", w.Intent)
	}
	for i, a := range w.Allocations {
		amount, err := ToAmount(a.Amount)
		if err != nil {
			return nil, channel.NewValidationError("allocation %d: missing amount", i)
		}
		s.Allocations[i] = channel.Allocation{
			Destination: a.Destination,
			Asset:       ctypes.Asset{ChainID: a.ChainID, Token: a.Token},
			Amount:      amount,
		}
		if err := s.Allocations[i].Validate(); err != nil {
			return nil, err
		}
	}
	for i, sig := range w.Sigs {
		s.Sigs[i] = sig.Clone()
	}
	return s, nil
}

// MakeStates converts a list of states, for example adjudication proofs.
func MakeStates(ss []*channel.State) []State {
	res := make([]State, len(ss))
	for i, s := range ss {
		res[i] = MakeState(s)
	}
	return res
}

// ToStates converts a list of wire states.
func ToStates(ws []State) ([]*channel.State, error) {
	res := make([]*channel.State, len(ws))
	for i, w := range ws {
		s, err := ToState(w)
		if err != nil {
			return nil, err
		}
		res[i] = s
	}
	return res, nil
}

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

package channel

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"perun.network/perun-nitro-backend/channel/types"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// Intent declares the purpose of a state.
type Intent uint8

// Intents, in their on-chain encoding.
const (
	IntentOperate Intent = iota
	IntentInitialize
	IntentResize
	IntentFinalize
)

func (i Intent) String() string {
	switch i {
	case IntentOperate:
		return "OPERATE"
	case IntentInitialize:
		return "INITIALIZE"
	case IntentResize:
		return "RESIZE"
	case IntentFinalize:
		return "FINALIZE"
	default:
		return fmt.Sprintf("Intent(%d)", uint8(i))
	}
}

// Valid reports whether i is one of the defined intents.
func (i Intent) Valid() bool {
	return i <= IntentFinalize
}

type (
	// Allocation assigns an amount of an asset to a destination. Allocation i
	// of a state belongs to participant i.
	Allocation struct {
		Destination wtypes.Address
		Asset       types.Asset
		Amount      *big.Int
	}

	// State is a versioned snapshot of a channel's allocations.
	State struct {
		Intent      Intent
		Version     uint64
		Data        []byte
		Allocations []Allocation
		Sigs        []wtypes.Sig
	}
)

// Clone returns a deep copy of the allocation.
func (a Allocation) Clone() Allocation {
	if a.Amount != nil {
		a.Amount = new(big.Int).Set(a.Amount)
	}
	return a
}

// Validate checks that the amount is a valid uint256.
func (a Allocation) Validate() error {
	if a.Amount == nil || a.Amount.Sign() < 0 {
		return invalid(ErrNegativeAmount)
	}
	if _, overflow := uint256.FromBig(a.Amount); overflow {
		return invalid(ErrAmountOverflow)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Data = append([]byte(nil), s.Data...)
	clone.Allocations = make([]Allocation, len(s.Allocations))
	for i, a := range s.Allocations {
		clone.Allocations[i] = a.Clone()
	}
	clone.Sigs = make([]wtypes.Sig, len(s.Sigs))
	for i, sig := range s.Sigs {
		clone.Sigs[i] = sig.Clone()
	}
	return &clone
}

// Validate checks the state's structure against the channel: intent range,
// one allocation per participant, amounts in range and INITIALIZE only at
// version 0.
func (s *State) Validate(c *Channel) error {
	if !s.Intent.Valid() {
		return NewValidationError("unknown intent %d", s.Intent)
	}
	if s.Intent == IntentInitialize && s.Version != 0 {
		return invalid(ErrInitializeVersion)
	}
	if len(s.Allocations) != len(c.Participants) {
		return NewValidationError("state must have one allocation per participant: got %d, want %d",
			len(s.Allocations), len(c.Participants))
	}
	for _, a := range s.Allocations {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Sums returns the total amount per asset.
func (s *State) Sums() map[types.AssetMapKey]*big.Int {
	sums := make(map[types.AssetMapKey]*big.Int)
	for _, a := range s.Allocations {
		k := a.Asset.MapKey()
		if _, ok := sums[k]; !ok {
			sums[k] = new(big.Int)
		}
		if a.Amount != nil {
			sums[k].Add(sums[k], a.Amount)
		}
	}
	return sums
}

// IsFinal reports whether the state is a closing state.
func (s *State) IsFinal() bool {
	return s.Intent == IntentFinalize
}

// WithoutSigs returns a copy of the state with the signatures removed.
func (s *State) WithoutSigs() *State {
	c := s.Clone()
	c.Sigs = nil
	return c
}

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
	"math/big"

	"github.com/pkg/errors"
)

// ValidateTransition checks that cand directly follows prev: the version
// increases by exactly 1 and the allocation sums per asset are equal.
func ValidateTransition(prev, cand *State) error {
	if cand.Version != prev.Version+1 {
		return invalid(errors.WithMessagef(ErrVersionIncrement, "got %d after %d", cand.Version, prev.Version))
	}
	if cand.Intent == IntentInitialize {
		return invalid(ErrInitializeVersion)
	}
	return equalSums(prev, cand)
}

// ValidateResize checks that cand resizes prev: RESIZE intent, version
// increment and cand.amount[i] == prev.amount[i] + delta[i] with non-negative
// results. It returns the decoded deltas.
func ValidateResize(prev, cand *State) ([]*big.Int, error) {
	if cand.Intent != IntentResize {
		return nil, invalid(ErrResizeIntent)
	}
	if cand.Version != prev.Version+1 {
		return nil, invalid(errors.WithMessagef(ErrVersionIncrement, "got %d after %d", cand.Version, prev.Version))
	}
	deltas, err := DecodeResizeData(cand.Data)
	if err != nil {
		return nil, err
	}
	if len(deltas) != len(prev.Allocations) || len(cand.Allocations) != len(prev.Allocations) {
		return nil, NewValidationError("resize must carry one delta and allocation per participant")
	}
	for i, d := range deltas {
		p, c := prev.Allocations[i], cand.Allocations[i]
		if !p.Asset.Equal(c.Asset) || !p.Destination.Equal(c.Destination) {
			return nil, NewValidationError("resize must not change destination or asset of allocation %d", i)
		}
		want := new(big.Int).Add(p.Amount, d)
		if want.Sign() < 0 {
			return nil, invalid(errors.WithMessagef(ErrNegativeAmount, "allocation %d", i))
		}
		if want.Cmp(c.Amount) != 0 {
			return nil, NewValidationError("allocation %d must equal previous amount plus delta: got %v, want %v", i, c.Amount, want)
		}
	}
	return deltas, nil
}

func equalSums(prev, cand *State) error {
	ps, cs := prev.Sums(), cand.Sums()
	if len(ps) != len(cs) {
		return invalid(errors.WithMessage(ErrSumMismatch, "asset sets differ"))
	}
	for k, p := range ps {
		c, ok := cs[k]
		if !ok || c.Cmp(p) != 0 {
			return invalid(ErrSumMismatch)
		}
	}
	return nil
}

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
	"math/big"
	"math/rand"
	"time"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/channel/types"
	wtest "perun.network/perun-nitro-backend/wallet/test"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

const (
	minRandomBalance = 1_000
	maxRandomBalance = 100_000
)

// NewRandomAsset returns a random token on chainID.
func NewRandomAsset(rng *rand.Rand, chainID uint64) types.Asset {
	return types.Asset{ChainID: chainID, Token: wtest.NewRandomAddress(rng)}
}

// NewRandomChannel returns a channel between parts with a random adjudicator
// and nonce.
func NewRandomChannel(rng *rand.Rand, parts []wtypes.Address) *channel.Channel {
	return &channel.Channel{
		Participants: append([]wtypes.Address(nil), parts...),
		Adjudicator:  wtest.NewRandomAddress(rng),
		Challenge:    time.Duration(1+rng.Intn(3600)) * time.Second,
		Nonce:        rng.Uint64(),
	}
}

// NewRandomAllocations returns one allocation of asset per participant,
// paying out to the participants themselves.
func NewRandomAllocations(rng *rand.Rand, parts []wtypes.Address, asset types.Asset) []channel.Allocation {
	allocs := make([]channel.Allocation, len(parts))
	for i, p := range parts {
		allocs[i] = channel.Allocation{
			Destination: p,
			Asset:       asset,
			Amount:      big.NewInt(minRandomBalance + rng.Int63n(maxRandomBalance)),
		}
	}
	return allocs
}

// NewInitialState returns the unsigned version 0 state with allocs.
func NewInitialState(allocs []channel.Allocation) *channel.State {
	return &channel.State{
		Intent:      channel.IntentInitialize,
		Version:     0,
		Data:        []byte{},
		Allocations: allocs,
	}
}

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
	"context"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/channel/types"
	"perun.network/perun-nitro-backend/wallet"
	wtest "perun.network/perun-nitro-backend/wallet/test"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// DefaultChainID is the chain id used by test setups.
const DefaultChainID = 1337

// TestDomain is a structured signing domain for tests.
var TestDomain = crypto.Keccak256Hash([]byte("nitro test domain"))

// Setup is a funded two party channel with signing accounts.
type Setup struct {
	T        require.TestingT
	Backend  *channel.Backend
	Accounts []*wallet.Account
	Parts    []wtypes.Address
	Asset    types.Asset
	Channel  *channel.Channel
	ID       channel.ID
	Initial  *channel.State
}

// NewSetup creates a channel between numParts fresh accounts with a signed
// initial state.
func NewSetup(t require.TestingT, rng *rand.Rand, numParts int) *Setup {
	accs, parts := wtest.NewRandomAccounts(rng, numParts)
	b := channel.NewBackend(DefaultChainID, TestDomain)
	asset := NewRandomAsset(rng, DefaultChainID)
	ch := NewRandomChannel(rng, parts)
	id, err := b.CalcID(ch)
	require.NoError(t, err)

	s := &Setup{
		T:        t,
		Backend:  b,
		Accounts: accs,
		Parts:    parts,
		Asset:    asset,
		Channel:  ch,
		ID:       id,
		Initial:  NewInitialState(NewRandomAllocations(rng, parts, asset)),
	}
	s.SignAll(s.Initial)
	return s
}

// SignAll replaces the signatures of st with raw signatures by all accounts.
func (s *Setup) SignAll(st *channel.State) *channel.State {
	st.Sigs = make([]wtypes.Sig, len(s.Accounts))
	for i, acc := range s.Accounts {
		sig, err := s.Backend.Sign(acc, s.ID, st)
		require.NoError(s.T, err)
		st.Sigs[i] = sig
	}
	return st
}

// Next returns a signed successor of prev that moves amount from
// participant 0 to participant 1.
func (s *Setup) Next(prev *channel.State, intent channel.Intent, amount int64) *channel.State {
	next := prev.WithoutSigs()
	next.Version = prev.Version + 1
	next.Intent = intent
	next.Data = []byte{}
	next.Allocations[0].Amount = new(big.Int).Sub(next.Allocations[0].Amount, big.NewInt(amount))
	next.Allocations[1].Amount = new(big.Int).Add(next.Allocations[1].Amount, big.NewInt(amount))
	return s.SignAll(next)
}

// Resize returns a signed RESIZE successor of prev applying deltas.
func (s *Setup) Resize(prev *channel.State, deltas ...int64) *channel.State {
	next := prev.WithoutSigs()
	next.Version = prev.Version + 1
	next.Intent = channel.IntentResize
	bigDeltas := make([]*big.Int, len(deltas))
	for i, d := range deltas {
		bigDeltas[i] = big.NewInt(d)
		next.Allocations[i].Amount = new(big.Int).Add(next.Allocations[i].Amount, bigDeltas[i])
	}
	data, err := channel.EncodeResizeData(bigDeltas)
	require.NoError(s.T, err)
	next.Data = data
	return s.SignAll(next)
}

// SignChallenge returns participant idx's challenge proof for st.
func (s *Setup) SignChallenge(idx int, st *channel.State) wtypes.Sig {
	sig, err := s.Backend.SignChallenge(s.Accounts[idx], s.ID, st)
	require.NoError(s.T, err)
	return sig
}

// Deposit returns the amount participant idx must deposit.
func (s *Setup) Deposit(idx int) *big.Int {
	return new(big.Int).Set(s.Initial.Allocations[idx].Amount)
}

// Verify verifies a single signature of the setup's channel.
func (s *Setup) Verify(idx int, st *channel.State, sig wtypes.Sig) bool {
	ok, err := s.Backend.Verify(context.Background(), s.Parts[idx], s.ID, st, sig)
	require.NoError(s.T, err)
	return ok
}

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
	"math/rand"

	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
)

// NewRandomAddress returns a random address.
func NewRandomAddress(rng *rand.Rand) types.Address {
	var a types.Address
	rng.Read(a[:])
	return a
}

// NewRandomAddresses returns n random addresses.
func NewRandomAddresses(rng *rand.Rand, n int) []types.Address {
	addrs := make([]types.Address, n)
	for i := range addrs {
		addrs[i] = NewRandomAddress(rng)
	}
	return addrs
}

// NewRandomAccounts returns n secp256k1 accounts and their addresses.
func NewRandomAccounts(rng *rand.Rand, n int) ([]*wallet.Account, []types.Address) {
	accs := make([]*wallet.Account, n)
	addrs := make([]types.Address, n)
	for i := range accs {
		accs[i] = wallet.NewRandomAccount(rng)
		addrs[i] = accs[i].Address()
	}
	return accs, addrs
}

// NewMockSigners returns n mock signers with random addresses.
func NewMockSigners(rng *rand.Rand, n int) []*MockSigner {
	s := make([]*MockSigner, n)
	for i := range s {
		s[i] = &MockSigner{Addr: NewRandomAddress(rng)}
	}
	return s
}

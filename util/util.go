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

// Package util contains helpers shared by the nitronode commands.
package util

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mathrand "math/rand"

	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel/types"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// NewSeededRand returns a math/rand source seeded from crypto/rand.
func NewSeededRand() (*mathrand.Rand, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, errors.Wrap(err, "reading seed")
	}
	seed := binary.LittleEndian.Uint64(b[:])
	return mathrand.New(mathrand.NewSource(int64(seed))), nil //nolint:gosec
}

// MakeRandWallet returns an ephemeral wallet holding one fresh account.
func MakeRandWallet() (*wallet.EphemeralWallet, *wallet.Account, error) {
	r, err := NewSeededRand()
	if err != nil {
		return nil, nil, err
	}
	w := wallet.NewEphemeralWallet()
	acc, err := w.AddNewAccount(r)
	if err != nil {
		return nil, nil, err
	}
	return w, acc, nil
}

// ParseAmount parses a decimal or 0x-prefixed hex amount.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// FundAccounts credits amount of asset to every account in ledger.
func FundAccounts(ctx context.Context, ledger custody.Ledger, asset types.Asset, amount *big.Int, accounts ...wtypes.Address) error {
	for _, acc := range accounts {
		if err := ledger.Deposit(ctx, acc, asset, amount); err != nil {
			return errors.WithMessagef(err, "funding %v", acc)
		}
	}
	return nil
}

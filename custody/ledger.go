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

package custody

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/channel/types"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// Ledger tracks the available balance of accounts per asset. Funds locked in
// channels are not part of the available balance.
type Ledger interface {
	Deposit(ctx context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error
	// Withdraw fails with ErrInsufficientReserve if the balance is too low.
	Withdraw(ctx context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error
	Balance(ctx context.Context, account wtypes.Address, asset types.Asset) (*big.Int, error)
}

type ledgerKey struct {
	account wtypes.Address
	asset   types.AssetMapKey
}

// MemoryLedger is an in-memory Ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[ledgerKey]*big.Int
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[ledgerKey]*big.Int)}
}

// Deposit credits amount to account.
func (l *MemoryLedger) Deposit(_ context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.New("deposit amount must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey{account, asset.MapKey()}
	bal, ok := l.balances[k]
	if !ok {
		bal = new(big.Int)
		l.balances[k] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// Withdraw debits amount from account.
func (l *MemoryLedger) Withdraw(_ context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.New("withdraw amount must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey{account, asset.MapKey()}
	bal, ok := l.balances[k]
	if !ok {
		bal = new(big.Int)
	}
	if bal.Cmp(amount) < 0 {
		return errors.WithMessagef(ErrInsufficientReserve, "%s has %v of %v, needs %v", account, bal, asset, amount)
	}
	l.balances[k] = new(big.Int).Sub(bal, amount)
	return nil
}

// Balance returns the available balance of account.
func (l *MemoryLedger) Balance(_ context.Context, account wtypes.Address, asset types.Asset) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[ledgerKey{account, asset.MapKey()}]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

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

package store

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perun.network/perun-nitro-backend/channel/types"
	"perun.network/perun-nitro-backend/custody"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// LedgerStore implements custody.Ledger on the ledger_balances table.
type LedgerStore struct {
	db *gorm.DB
}

var _ custody.Ledger = (*LedgerStore)(nil)

// Deposit credits amount to account.
func (l *LedgerStore) Deposit(ctx context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.New("deposit amount must not be negative")
	}
	return l.update(ctx, account, asset, func(bal *big.Int) error {
		bal.Add(bal, amount)
		return nil
	})
}

// Withdraw debits amount from account.
func (l *LedgerStore) Withdraw(ctx context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.New("withdraw amount must not be negative")
	}
	return l.update(ctx, account, asset, func(bal *big.Int) error {
		if bal.Cmp(amount) < 0 {
			return errors.WithMessagef(custody.ErrInsufficientReserve, "%s has %v of %v, needs %v", account, bal, asset, amount)
		}
		bal.Sub(bal, amount)
		return nil
	})
}

// Balance returns the available balance of account.
func (l *LedgerStore) Balance(ctx context.Context, account wtypes.Address, asset types.Asset) (*big.Int, error) {
	row, err := findBalance(l.db.WithContext(ctx), account, asset)
	if err != nil {
		return nil, err
	}
	return parseAmount(row.Amount)
}

func (l *LedgerStore) update(ctx context.Context, account wtypes.Address, asset types.Asset, fn func(bal *big.Int) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findBalance(tx.Clauses(clause.Locking{Strength: "UPDATE"}), account, asset)
		if err != nil {
			return err
		}
		bal, err := parseAmount(row.Amount)
		if err != nil {
			return err
		}
		if err := fn(bal); err != nil {
			return err
		}
		row.Amount = bal.String()
		return errors.Wrap(tx.Save(row).Error, "saving balance")
	})
}

func findBalance(db *gorm.DB, account wtypes.Address, asset types.Asset) (*BalanceRow, error) {
	row := &BalanceRow{
		Account: wtypes.AsEthAddr(account).Hex(),
		ChainID: asset.ChainID,
		Token:   wtypes.AsEthAddr(asset.Token).Hex(),
	}
	err := db.Where(row).Take(row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row.Amount = "0"
		return row, nil
	case err != nil:
		return nil, errors.Wrap(err, "loading balance")
	}
	return row, nil
}

func parseAmount(s string) (*big.Int, error) {
	bal, ok := new(big.Int).SetString(s, 10) //nolint:gomnd
	if !ok {
		return nil, errors.Errorf("corrupt balance %q", s)
	}
	return bal, nil
}

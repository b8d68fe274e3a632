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

	"perun.network/perun-nitro-backend/channel/types"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

type ledgerMove struct {
	account wtypes.Address
	asset   types.Asset
	amount  *big.Int
}

// ledgerTx stages the ledger effects of one record mutation. Debits are
// applied immediately so insufficient balances surface before the record is
// written. Credits are held back until the record is stored.
type ledgerTx struct {
	ledger  Ledger
	debits  []ledgerMove
	credits []ledgerMove
}

func newLedgerTx(l Ledger) *ledgerTx {
	return &ledgerTx{ledger: l}
}

func (tx *ledgerTx) withdraw(ctx context.Context, account wtypes.Address, asset types.Asset, amount *big.Int) error {
	if err := tx.ledger.Withdraw(ctx, account, asset, amount); err != nil {
		return err
	}
	tx.debits = append(tx.debits, ledgerMove{account, asset, new(big.Int).Set(amount)})
	return nil
}

func (tx *ledgerTx) deposit(account wtypes.Address, asset types.Asset, amount *big.Int) {
	tx.credits = append(tx.credits, ledgerMove{account, asset, new(big.Int).Set(amount)})
}

// rollback refunds all debits and drops the pending credits.
func (tx *ledgerTx) rollback(ctx context.Context) []error {
	var errs []error
	for i := len(tx.debits) - 1; i >= 0; i-- {
		m := tx.debits[i]
		if err := tx.ledger.Deposit(ctx, m.account, m.asset, m.amount); err != nil {
			errs = append(errs, err)
		}
	}
	tx.debits, tx.credits = nil, nil
	return errs
}

// commit applies the pending credits.
func (tx *ledgerTx) commit(ctx context.Context) []error {
	var errs []error
	for _, m := range tx.credits {
		if err := tx.ledger.Deposit(ctx, m.account, m.asset, m.amount); err != nil {
			errs = append(errs, err)
		}
	}
	tx.debits, tx.credits = nil, nil
	return errs
}

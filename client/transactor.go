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

package client

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// ErrWrongSender is returned when a transaction is to be signed for an
// account other than the transactor's.
var ErrWrongSender = errors.New("transactor cannot sign for this sender")

// Transactor signs settlement transactions with a wallet.Signer.
type Transactor struct {
	signer   wallet.Signer
	txSigner types.Signer
}

// NewTransactor returns a Transactor for chain chainID.
func NewTransactor(s wallet.Signer, chainID *big.Int) *Transactor {
	return &Transactor{signer: s, txSigner: types.LatestSignerForChainID(chainID)}
}

// Address returns the sending account.
func (t *Transactor) Address() common.Address {
	return wtypes.AsEthAddr(t.signer.Address())
}

// SignTx signs tx on behalf of from.
func (t *Transactor) SignTx(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	if from != t.Address() {
		return nil, errors.WithMessagef(ErrWrongSender, "%v", from)
	}
	h := t.txSigner.Hash(tx)
	sig, err := t.signer.Sign(h[:])
	if err != nil {
		return nil, errors.WithMessage(err, "signing transaction")
	}
	return tx.WithSignature(t.txSigner, sig)
}

// NewTransactOpts returns options that send from the transactor's account.
func (t *Transactor) NewTransactOpts() *bind.TransactOpts {
	return &bind.TransactOpts{
		From:   t.Address(),
		Signer: t.SignTx,
	}
}

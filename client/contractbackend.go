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
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/wallet"
)

// ErrTxFailed is returned when a settlement transaction was mined but
// reverted.
var ErrTxFailed = errors.New("transaction failed")

// Chain is the node API the settlement client needs. *ethclient.Client
// implements it.
type Chain interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// ContractBackend sends custody calls of one account to one network.
// Transactions of the account are serialized to keep nonces consistent.
type ContractBackend struct {
	log.Embedding

	chain   Chain
	chainID uint64
	custody *bind.BoundContract
	address common.Address
	tr      *Transactor

	cbMutex sync.Mutex
}

// NewContractBackend returns a backend that calls the custody contract at
// address on chain chainID, sending from signer.
func NewContractBackend(chain Chain, chainID uint64, address common.Address, signer wallet.Signer) *ContractBackend {
	return &ContractBackend{
		Embedding: log.MakeEmbedding(log.WithField("chain", chainID)),
		chain:     chain,
		chainID:   chainID,
		custody:   bind.NewBoundContract(address, CustodyABI, chain, chain, chain),
		address:   address,
		tr:        NewTransactor(signer, new(big.Int).SetUint64(chainID)),
	}
}

// ChainID returns the network's chain id.
func (cb *ContractBackend) ChainID() uint64 { return cb.chainID }

// Custody returns the custody contract address.
func (cb *ContractBackend) Custody() common.Address { return cb.address }

// Chain returns the underlying node connection.
func (cb *ContractBackend) Chain() Chain { return cb.chain }

// Transact calls method on the custody contract and waits until the
// transaction is mined. It fails with ErrTxFailed if it reverted.
func (cb *ContractBackend) Transact(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	tx, err := cb.send(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, cb.chain, tx)
	if err != nil {
		return nil, errors.WithMessagef(err, "waiting for %s tx %v", method, tx.Hash())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, errors.WithMessagef(ErrTxFailed, "%s tx %v", method, tx.Hash())
	}
	return receipt, nil
}

func (cb *ContractBackend) send(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	cb.cbMutex.Lock()
	defer cb.cbMutex.Unlock()

	opts := cb.tr.NewTransactOpts()
	opts.Context = ctx
	tx, err := cb.custody.Transact(opts, method, args...)
	if err != nil {
		return nil, errors.WithMessagef(err, "sending %s", method)
	}
	cb.Log().WithField("tx", tx.Hash()).Debugf("Sent %s", method)
	return tx, nil
}

// DomainSeparator returns the EIP-712 domain separator the custody
// contract reports through eip712Domain. Contracts without it yield
// channel.NoStructuredSupport.
func (cb *ContractBackend) DomainSeparator(ctx context.Context) (common.Hash, error) {
	var out []interface{}
	if err := cb.custody.Call(&bind.CallOpts{Context: ctx}, &out, "eip712Domain"); err != nil {
		cb.Log().WithError(err).Warn("Custody has no EIP-712 domain, structured signatures disabled")
		return channel.NoStructuredSupport, nil
	}
	if len(out) != 7 { //nolint:gomnd
		return common.Hash{}, errors.Errorf("eip712Domain returned %d values", len(out))
	}
	name, _ := out[1].(string)
	version, _ := out[2].(string)
	chainID, _ := out[3].(*big.Int)
	contract, _ := out[4].(common.Address)
	if chainID == nil {
		return common.Hash{}, errors.New("eip712Domain returned no chain id")
	}
	return DomainHash(name, version, chainID, contract)
}

// DomainHash computes the EIP-712 domain separator of a contract.
func DomainHash(name, version string, chainID *big.Int, contract common.Address) (common.Hash, error) {
	domain := apitypes.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: contract.Hex(),
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}},
		Domain: domain,
	}
	h, err := td.HashStruct("EIP712Domain", domain.Map())
	if err != nil {
		return common.Hash{}, errors.WithMessage(err, "hashing domain")
	}
	return common.BytesToHash(h), nil
}

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
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// ERC1271MagicValue is returned by isValidSignature for valid signatures.
var ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// Validator checks contract signers through eth_call. ERC-6492 signatures
// are checked with a UniversalSigValidator deployed at Universal.
type Validator struct {
	caller    bind.ContractCaller
	Universal common.Address
}

var _ channel.ContractValidator = (*Validator)(nil)

// NewValidator returns a Validator. If universal is the zero address,
// ERC-6492 signatures are rejected.
func NewValidator(caller bind.ContractCaller, universal common.Address) *Validator {
	return &Validator{caller: caller, Universal: universal}
}

// HasCode reports whether addr is a deployed contract.
func (v *Validator) HasCode(ctx context.Context, addr wtypes.Address) (bool, error) {
	code, err := v.caller.CodeAt(ctx, wtypes.AsEthAddr(addr), nil)
	if err != nil {
		return false, errors.WithMessage(err, "fetching code")
	}
	return len(code) > 0, nil
}

// IsValidSignature calls ERC-1271 isValidSignature on signer. Reverts count
// as invalid signatures.
func (v *Validator) IsValidSignature(ctx context.Context, signer wtypes.Address, hash common.Hash, sig []byte) (bool, error) {
	input, err := SignerABI.Pack("isValidSignature", hash, sig)
	if err != nil {
		return false, err
	}
	to := wtypes.AsEthAddr(signer)
	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return false, nil //nolint: nilerr
	}
	return len(out) >= 4 && bytes.Equal(out[:4], ERC1271MagicValue[:]), nil
}

// DeployAndVerify checks an ERC-6492 signature by simulating the counterfactual
// deployment and the ERC-1271 check in a single eth_call.
func (v *Validator) DeployAndVerify(ctx context.Context, signer wtypes.Address, hash common.Hash, factory common.Address, calldata, sig []byte) (bool, error) {
	if v.Universal == (common.Address{}) {
		return false, nil
	}
	wrapped, err := channel.WrapERC6492(factory, calldata, sig)
	if err != nil {
		return false, err
	}
	input, err := SignerABI.Pack("isValidSig", wtypes.AsEthAddr(signer), hash, wrapped)
	if err != nil {
		return false, err
	}
	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.Universal, Data: input}, nil)
	if err != nil {
		return false, nil //nolint: nilerr
	}
	res, err := SignerABI.Unpack("isValidSig", out)
	if err != nil || len(res) != 1 {
		return false, nil //nolint: nilerr
	}
	ok, _ := res[0].(bool)
	return ok, nil
}

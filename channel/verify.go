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

package channel

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// ERC6492Suffix marks signatures of not yet deployed contract signers.
var ERC6492Suffix = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

var erc6492Args abi.Arguments

func init() {
	erc6492Args = abi.Arguments{
		{Type: mustType("address", nil)},
		{Type: mustType("bytes", nil)},
		{Type: mustType("bytes", nil)},
	}
}

// ContractValidator checks signatures of smart contract signers.
type ContractValidator interface {
	// HasCode reports whether addr is a deployed contract.
	HasCode(ctx context.Context, addr wtypes.Address) (bool, error)
	// IsValidSignature calls ERC-1271 isValidSignature on signer.
	IsValidSignature(ctx context.Context, signer wtypes.Address, hash common.Hash, sig []byte) (bool, error)
	// DeployAndVerify deploys signer through factory with calldata and then
	// verifies sig as in ERC-6492.
	DeployAndVerify(ctx context.Context, signer wtypes.Address, hash common.Hash, factory common.Address, calldata, sig []byte) (bool, error)
}

// Digests are the hashes a state can be signed over.
type Digests struct {
	// Raw is the plain state hash.
	Raw common.Hash
	// Prefixed is the EIP-191 personal message hash of Raw.
	Prefixed common.Hash
	// Structured is the EIP-712 hash. Only set when Typed is true.
	Structured common.Hash
	Typed      bool
}

// Scheme is an ECDSA signature scheme. Digest returns false if the scheme
// does not apply.
type Scheme struct {
	Name   string
	Digest func(d *Digests) (common.Hash, bool)
}

// Schemes lists the ECDSA schemes in the order they are tried.
var Schemes = []Scheme{
	{Name: "raw", Digest: func(d *Digests) (common.Hash, bool) { return d.Raw, true }},
	{Name: "eip191", Digest: func(d *Digests) (common.Hash, bool) { return d.Prefixed, true }},
	{Name: "eip712", Digest: func(d *Digests) (common.Hash, bool) { return d.Structured, d.Typed }},
}

// MakeDigests computes all digests of s under the given EIP-712 domain.
func MakeDigests(id ID, s *State, domain common.Hash) (*Digests, error) {
	raw, err := StateHash(id, s)
	if err != nil {
		return nil, err
	}
	d := &Digests{
		Raw:      raw,
		Prefixed: common.BytesToHash(accounts.TextHash(raw[:])),
	}
	if domain != NoStructuredSupport && domain != (common.Hash{}) {
		sh, err := StructHash(id, s)
		if err != nil {
			return nil, err
		}
		d.Structured = TypedDataHash(domain, sh)
		d.Typed = true
	}
	return d, nil
}

// IsERC6492 reports whether sig carries the ERC-6492 suffix.
func IsERC6492(sig []byte) bool {
	return len(sig) >= len(ERC6492Suffix) && bytes.Equal(sig[len(sig)-len(ERC6492Suffix):], ERC6492Suffix)
}

// UnwrapERC6492 splits an ERC-6492 signature into factory, factory calldata
// and the inner signature.
func UnwrapERC6492(sig []byte) (factory common.Address, calldata, inner []byte, err error) {
	if !IsERC6492(sig) {
		return common.Address{}, nil, nil, badSig(errors.New("signature lacks ERC-6492 suffix"))
	}
	vals, err := erc6492Args.Unpack(sig[:len(sig)-len(ERC6492Suffix)])
	if err != nil {
		return common.Address{}, nil, nil, badSig(errors.WithMessage(err, "decoding ERC-6492 signature"))
	}
	factory, ok1 := vals[0].(common.Address)
	calldata, ok2 := vals[1].([]byte)
	inner, ok3 := vals[2].([]byte)
	if !ok1 || !ok2 || !ok3 {
		return common.Address{}, nil, nil, badSig(errors.New("malformed ERC-6492 signature"))
	}
	return factory, calldata, inner, nil
}

// WrapERC6492 builds an ERC-6492 signature.
func WrapERC6492(factory common.Address, calldata, inner []byte) ([]byte, error) {
	enc, err := erc6492Args.Pack(factory, calldata, inner)
	if err != nil {
		return nil, err
	}
	return append(enc, ERC6492Suffix...), nil
}

// verifySig checks sig against expected. It returns false without error for
// signatures that are merely invalid. Errors are reserved for failing
// contract calls.
func verifySig(ctx context.Context, r wallet.Recoverer, v ContractValidator, d *Digests, sig wtypes.Sig, expected wtypes.Address) (bool, error) {
	if IsERC6492(sig) {
		if v == nil {
			return false, nil
		}
		factory, calldata, inner, err := UnwrapERC6492(sig)
		if err != nil {
			return false, nil //nolint: nilerr
		}
		return v.DeployAndVerify(ctx, expected, d.Raw, factory, calldata, inner)
	}
	if v != nil {
		isContract, err := v.HasCode(ctx, expected)
		if err != nil {
			return false, err
		}
		if isContract {
			return v.IsValidSignature(ctx, expected, d.Raw, sig)
		}
	}
	for _, scheme := range Schemes {
		digest, ok := scheme.Digest(d)
		if !ok {
			continue
		}
		valid, err := wallet.VerifySignature(r, digest[:], sig, expected)
		if err != nil {
			return false, err
		}
		if valid {
			return true, nil
		}
	}
	return false, nil
}

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

package wallet

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet/types"
)

var (
	// ErrInvalidSignatureLength is returned for signatures that are not 65 bytes.
	ErrInvalidSignatureLength = types.ErrInvalidSignatureLength
	// ErrRecoveryFailed is returned when no public key can be recovered from
	// a signature.
	ErrRecoveryFailed = errors.New("signature recovery failed")
)

// Recoverer recovers the signer address from a signature over a digest.
type Recoverer interface {
	RecoverAddress(hash []byte, sig types.Sig) (types.Address, error)
}

type backend struct{}

// Backend is the secp256k1 Recoverer.
var Backend Recoverer = backend{}

// RecoverAddress recovers the signer of hash using the secp256k1 backend.
func RecoverAddress(hash []byte, sig types.Sig) (types.Address, error) {
	return Backend.RecoverAddress(hash, sig)
}

// RecoverAddress normalises v to {0,1} and recovers the signing address.
func (backend) RecoverAddress(hash []byte, sig types.Sig) (types.Address, error) {
	if len(hash) != HashLen {
		return types.Address{}, ErrInvalidHashLength
	}
	norm, err := sig.Normalize()
	if err != nil {
		return types.Address{}, err
	}
	pk, err := crypto.SigToPub(hash, norm)
	if err != nil {
		return types.Address{}, errors.WithMessage(ErrRecoveryFailed, err.Error())
	}
	return types.AsWalletAddr(crypto.PubkeyToAddress(*pk)), nil
}

// VerifySignature reports whether sig over hash recovers to addr under r.
// Malformed signatures verify as false without error.
func VerifySignature(r Recoverer, hash []byte, sig types.Sig, addr types.Address) (bool, error) {
	rec, err := r.RecoverAddress(hash, sig)
	if errors.Is(err, ErrRecoveryFailed) || errors.Is(err, types.ErrInvalidSignatureLength) ||
		errors.Is(err, types.ErrInvalidRecoveryID) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return rec.Equal(addr), nil
}

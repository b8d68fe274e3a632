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

package rpc

import (
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
)

// Verifier checks message signatures with a Recoverer.
type Verifier struct {
	Recoverer wallet.Recoverer
}

// DefaultVerifier verifies secp256k1 signatures.
var DefaultVerifier = Verifier{Recoverer: wallet.Backend}

// VerifySingle checks msg with DefaultVerifier.
func VerifySingle(msg Signed, signer types.Address) error {
	return DefaultVerifier.VerifySingle(msg, signer)
}

// VerifyMultiple checks msg with DefaultVerifier.
func VerifyMultiple(msg Signed, signers []types.Address) error {
	return DefaultVerifier.VerifyMultiple(msg, signers)
}

// Signers recovers the addresses of all signatures of msg.
func (v Verifier) Signers(msg Signed) ([]types.Address, error) {
	h, err := msg.Payload().Hash()
	if err != nil {
		return nil, errors.WithMessage(err, "hashing payload")
	}
	sigs := msg.Signatures()
	addrs := make([]types.Address, len(sigs))
	for i, sig := range sigs {
		addrs[i], err = v.Recoverer.RecoverAddress(h.Bytes(), sig)
		if err != nil {
			return nil, errors.WithMessagef(ErrInvalidSignature, "signature %d: %v", i, err)
		}
	}
	return addrs, nil
}

// VerifySingle requires a signature of signer on msg.
func (v Verifier) VerifySingle(msg Signed, signer types.Address) error {
	return v.VerifyMultiple(msg, []types.Address{signer})
}

// VerifyMultiple requires a signature of every signer on msg, in any
// order. Extra signatures are ignored.
func (v Verifier) VerifyMultiple(msg Signed, signers []types.Address) error {
	if len(msg.Signatures()) == 0 {
		return ErrMissingSignature
	}
	recovered, err := v.Signers(msg)
	if err != nil {
		return err
	}
	have := make(map[types.Address]struct{}, len(recovered))
	for _, a := range recovered {
		have[a] = struct{}{}
	}
	for _, s := range signers {
		if _, ok := have[s]; !ok {
			return errors.WithMessagef(ErrInvalidSignature, "no signature of %s", s)
		}
	}
	return nil
}

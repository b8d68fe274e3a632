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

package test

import (
	"bytes"

	"perun.network/perun-nitro-backend/wallet"
	"perun.network/perun-nitro-backend/wallet/types"
)

// MockSigner signs by appending its address to the digest. The resulting
// 65-byte signature is only accepted by MockRecoverer.
type MockSigner struct {
	Addr types.Address
}

// MockRecoverer recovers the address embedded by MockSigner.
type MockRecoverer struct{}

var (
	_ wallet.Signer    = (*MockSigner)(nil)
	_ wallet.Recoverer = MockRecoverer{}
)

// Sign returns hash ‖ address ‖ zero padding.
func (m *MockSigner) Sign(hash []byte) (types.Sig, error) {
	if len(hash) != wallet.HashLen {
		return nil, wallet.ErrInvalidHashLength
	}
	sig := make(types.Sig, types.SigLen)
	copy(sig, hash)
	copy(sig[wallet.HashLen:], m.Addr.Bytes())
	return sig, nil
}

// PublicKey returns the address bytes.
func (m *MockSigner) PublicKey() types.PublicKey {
	return m.Addr.Bytes()
}

// Address returns the mock address.
func (m *MockSigner) Address() types.Address {
	return m.Addr
}

// RecoverAddress returns the embedded address if the signature was made over
// hash.
func (MockRecoverer) RecoverAddress(hash []byte, sig types.Sig) (types.Address, error) {
	if err := sig.Validate(); err != nil {
		return types.Address{}, err
	}
	if !bytes.Equal(sig[:wallet.HashLen], hash) {
		return types.Address{}, wallet.ErrRecoveryFailed
	}
	var addr types.Address
	copy(addr[:], sig[wallet.HashLen:wallet.HashLen+types.AddressBinaryLen])
	return addr, nil
}

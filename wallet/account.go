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
	"crypto/ecdsa"
	"encoding/hex"
	"io"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet/types"
)

// HashLen is the length of the digests accounts sign.
const HashLen = 32

// ErrInvalidHashLength is returned when asked to sign something that is not a
// 32-byte digest.
var ErrInvalidHashLength = errors.New("hash to sign must be 32 bytes")

// Signer produces recoverable signatures over 32-byte digests.
type Signer interface {
	// Sign signs the digest as-is, without any prefix.
	Sign(hash []byte) (types.Sig, error)
	// PublicKey returns the signer's serialized public key.
	PublicKey() types.PublicKey
	// Address returns the address that RecoverAddress yields for the
	// signer's signatures.
	Address() types.Address
}

// Account is a secp256k1 Signer.
type Account struct {
	// privateKey is the private key of the account.
	privateKey *ecdsa.PrivateKey
	// address is derived from the public key once.
	address types.Address
}

var _ Signer = (*Account)(nil)

// NewAccount wraps a private key into an Account.
func NewAccount(sk *ecdsa.PrivateKey) *Account {
	return &Account{
		privateKey: sk,
		address:    types.AsWalletAddr(crypto.PubkeyToAddress(sk.PublicKey)),
	}
}

// NewAccountFromHex parses a hex-encoded private key, with or without 0x
// prefix.
func NewAccountFromHex(hexKey string) (*Account, error) {
	sk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	return NewAccount(sk), nil
}

// NewRandomAccount creates an account from rng. Only for testing and
// ephemeral server identities.
func NewRandomAccount(rng *rand.Rand) *Account {
	return NewAccount(NewRandomKey(rng))
}

// NewRandomKey draws a secp256k1 private key from rng.
func NewRandomKey(rng io.Reader) *ecdsa.PrivateKey {
	seed := make([]byte, HashLen)
	for {
		if _, err := io.ReadFull(rng, seed); err != nil {
			panic(err)
		}
		sk, err := crypto.ToECDSA(seed)
		if err == nil {
			return sk
		}
	}
}

// Address returns the account's address.
func (a *Account) Address() types.Address {
	return a.address
}

// PublicKey returns the uncompressed public key.
func (a *Account) PublicKey() types.PublicKey {
	return crypto.FromECDSAPub(&a.privateKey.PublicKey)
}

// Sign signs a 32-byte digest. The returned signature has v in {0,1}.
func (a *Account) Sign(hash []byte) (types.Sig, error) {
	if len(hash) != HashLen {
		return nil, ErrInvalidHashLength
	}
	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "signing hash")
	}
	return sig, nil
}

// PrivateKeyHex returns the hex encoding of the private key without prefix.
func (a *Account) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(a.privateKey))
}

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

package types

import (
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SigLen is the length of a plain (r,s,v) signature in bytes.
const SigLen = 65

const (
	// RecoveryIDOffset is the offset some signers add to the recovery id.
	RecoveryIDOffset = 27
	vIndex           = SigLen - 1
)

var (
	// ErrInvalidSignatureLength is returned when a signature is not SigLen bytes.
	ErrInvalidSignatureLength = errors.New("signature must be 65 bytes")
	// ErrInvalidRecoveryID is returned when v is neither 0/1 nor 27/28.
	ErrInvalidRecoveryID = errors.New("signature recovery id must be 0, 1, 27 or 28")
)

// Sig is a signature. Plain signatures are (r,s,v) with SigLen bytes; wrapped
// contract signatures may be longer.
type Sig []byte

// PublicKey is the serialized public key of a signer.
type PublicKey []byte

// Validate checks that sig is a plain (r,s,v) signature.
func (s Sig) Validate() error {
	if len(s) != SigLen {
		return ErrInvalidSignatureLength
	}
	return nil
}

// V returns the recovery id byte of a plain signature.
func (s Sig) V() byte {
	return s[vIndex]
}

// Clone returns a copy of the signature.
func (s Sig) Clone() Sig {
	if s == nil {
		return nil
	}
	return append(Sig(nil), s...)
}

// Normalize returns a copy of the signature with v in the canonical {0,1}
// encoding.
func (s Sig) Normalize() (Sig, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	norm := s.Clone()
	if norm[vIndex] >= RecoveryIDOffset {
		norm[vIndex] -= RecoveryIDOffset
	}
	if norm[vIndex] > 1 {
		return nil, ErrInvalidRecoveryID
	}
	return norm, nil
}

// String returns the 0x-prefixed hex encoding.
func (s Sig) String() string {
	return hexutil.Encode(s)
}

// MarshalText encodes the signature as 0x-prefixed hex.
func (s Sig) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(s)), nil
}

// UnmarshalText decodes a 0x-prefixed hex signature.
func (s *Sig) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return err
	}
	*s = b
	return nil
}

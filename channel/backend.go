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
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// Backend binds channel hashing and signature verification to one
// settlement network.
type Backend struct {
	// ChainID is the settlement network's chain id.
	ChainID uint64
	// Domain is the custody contract's EIP-712 domain separator, or
	// NoStructuredSupport.
	Domain common.Hash
	// Recoverer recovers ECDSA signers. Defaults to wallet.Backend.
	Recoverer wallet.Recoverer
	// Validator checks contract signers. Optional.
	Validator ContractValidator
}

// NewBackend returns a Backend with the secp256k1 recoverer and no contract
// validator.
func NewBackend(chainID uint64, domain common.Hash) *Backend {
	return &Backend{ChainID: chainID, Domain: domain, Recoverer: wallet.Backend}
}

func (b *Backend) recoverer() wallet.Recoverer {
	if b.Recoverer == nil {
		return wallet.Backend
	}
	return b.Recoverer
}

// CalcID computes the id of c on this network.
func (b *Backend) CalcID(c *Channel) (ID, error) {
	return CalcID(c, b.ChainID)
}

// Digests returns the digests of s under this network's domain.
func (b *Backend) Digests(id ID, s *State) (*Digests, error) {
	return MakeDigests(id, s, b.Domain)
}

// Sign signs the raw state hash.
func (b *Backend) Sign(signer wallet.Signer, id ID, s *State) (wtypes.Sig, error) {
	return b.SignWith(signer, Schemes[0], id, s)
}

// SignWith signs s under the given scheme.
func (b *Backend) SignWith(signer wallet.Signer, scheme Scheme, id ID, s *State) (wtypes.Sig, error) {
	d, err := b.Digests(id, s)
	if err != nil {
		return nil, err
	}
	digest, ok := scheme.Digest(d)
	if !ok {
		return nil, errors.Errorf("scheme %s not supported by domain", scheme.Name)
	}
	return signer.Sign(digest[:])
}

// Verify checks that sig is a valid signature by addr on s under any
// supported scheme.
func (b *Backend) Verify(ctx context.Context, addr wtypes.Address, id ID, s *State, sig wtypes.Sig) (bool, error) {
	d, err := b.Digests(id, s)
	if err != nil {
		return false, err
	}
	return verifySig(ctx, b.recoverer(), b.Validator, d, sig, addr)
}

// SignChallenge signs the challenge proof for s.
func (b *Backend) SignChallenge(signer wallet.Signer, id ID, s *State) (wtypes.Sig, error) {
	h, err := ChallengeHash(id, s)
	if err != nil {
		return nil, err
	}
	return signer.Sign(h[:])
}

// VerifyChallenge checks that sig proves addr challenged with s.
func (b *Backend) VerifyChallenge(addr wtypes.Address, id ID, s *State, sig wtypes.Sig) (bool, error) {
	h, err := ChallengeHash(id, s)
	if err != nil {
		return false, err
	}
	return wallet.VerifySignature(b.recoverer(), h[:], sig, addr)
}

// ValidateUnanimousSignatures requires exactly one valid signature per
// participant, in participant order.
func (b *Backend) ValidateUnanimousSignatures(ctx context.Context, c *Channel, id ID, s *State) error {
	if len(s.Sigs) != len(c.Participants) {
		return badSig(errors.WithMessagef(ErrSignatureCount, "got %d, want %d", len(s.Sigs), len(c.Participants)))
	}
	d, err := b.Digests(id, s)
	if err != nil {
		return invalid(err)
	}
	for i, p := range c.Participants {
		ok, err := verifySig(ctx, b.recoverer(), b.Validator, d, s.Sigs[i], p)
		if err != nil {
			return errors.WithMessagef(err, "verifying signature of participant %d", i)
		}
		if !ok {
			return NewSignatureError("signature of participant %d (%s) is invalid", i, p)
		}
	}
	return nil
}

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
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// MinParticipants is the smallest number of participants a channel can have.
const MinParticipants = 2

// ID is the unique identifier of a channel.
type ID [32]byte

// Channel is the immutable definition of a state channel.
type Channel struct {
	Participants []wtypes.Address
	Adjudicator  wtypes.Address
	// Challenge is the dispute window, with second granularity.
	Challenge time.Duration
	Nonce     uint64
}

var (
	channelArgs abi.Arguments
	// ErrTooFewParticipants is returned for channels with less than two participants.
	ErrTooFewParticipants = errors.New("channel must have at least two participants")
	// ErrDuplicateParticipant is returned when an address appears twice.
	ErrDuplicateParticipant = errors.New("channel participants must be distinct")
	// ErrZeroChallenge is returned for channels without dispute window.
	ErrZeroChallenge = errors.New("challenge duration must be at least one second")
)

func init() {
	channelArgs = abi.Arguments{
		{Type: mustType("address[]", nil)},
		{Type: mustType("address", nil)},
		{Type: mustType("uint64", nil)},
		{Type: mustType("uint64", nil)},
		{Type: mustType("uint256", nil)},
	}
}

// String returns the hex encoding of the id.
func (id ID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MarshalText encodes the id as 0x-prefixed hex.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a 0x-prefixed hex id.
func (id *ID) UnmarshalText(text []byte) error {
	b := common.FromHex(string(text))
	if len(b) != len(id) {
		return errors.Errorf("channel id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return nil
}

// Validate checks the structural invariants of the channel definition.
func (c *Channel) Validate() error {
	if len(c.Participants) < MinParticipants {
		return invalid(ErrTooFewParticipants)
	}
	seen := make(map[wtypes.Address]struct{}, len(c.Participants))
	for i, p := range c.Participants {
		if p.IsZero() {
			return NewValidationError("participant %d must not be the zero address", i)
		}
		if _, ok := seen[p]; ok {
			return invalid(ErrDuplicateParticipant)
		}
		seen[p] = struct{}{}
	}
	if c.Challenge < time.Second {
		return invalid(ErrZeroChallenge)
	}
	return nil
}

// Index returns the position of addr among the participants, or -1.
func (c *Channel) Index(addr wtypes.Address) int {
	for i, p := range c.Participants {
		if p.Equal(addr) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the channel.
func (c Channel) Clone() Channel {
	c.Participants = append([]wtypes.Address(nil), c.Participants...)
	return c
}

// ChallengeSeconds returns the dispute window in whole seconds.
func (c *Channel) ChallengeSeconds() uint64 {
	return uint64(c.Challenge / time.Second)
}

// Encode returns abi.encode(participants, adjudicator, challenge, nonce, chainID).
func (c *Channel) Encode(chainID uint64) ([]byte, error) {
	return channelArgs.Pack(
		wtypes.AsEthAddrs(c.Participants),
		wtypes.AsEthAddr(c.Adjudicator),
		c.ChallengeSeconds(),
		c.Nonce,
		new(big.Int).SetUint64(chainID),
	)
}

// CalcID computes the channel id. It depends on every field of the channel
// and on the chain id of the settlement network.
func CalcID(c *Channel, chainID uint64) (ID, error) {
	enc, err := c.Encode(chainID)
	if err != nil {
		return ID{}, errors.WithMessage(err, "encoding channel")
	}
	return ID(crypto.Keccak256Hash(enc)), nil
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

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
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// challengeSuffix is appended to the packed state to form the challenger's
// proof of participation.
const challengeSuffix = "challenge"

var stateArgs abi.Arguments

type (
	// EthAllocation is the ABI representation of an Allocation.
	EthAllocation struct {
		Destination common.Address
		Token       common.Address
		Amount      *big.Int
	}

	// EthState is the ABI representation of a State bound to a channel.
	EthState struct {
		ChannelID   [32]byte
		Intent      uint8
		Version     *big.Int
		Data        []byte
		Allocations []EthAllocation
	}
)

func init() {
	stateArgs = abi.Arguments{
		{Type: mustType("bytes32", nil)},
		{Type: mustType("uint8", nil)},
		{Type: mustType("uint256", nil)},
		{Type: mustType("bytes", nil)},
		{Type: mustType("tuple[]", allocationComponents)},
	}
}

var allocationComponents = []abi.ArgumentMarshaling{
	{Name: "destination", Type: "address"},
	{Name: "token", Type: "address"},
	{Name: "amount", Type: "uint256"},
}

// ToEthState converts a state of channel id into its ABI representation.
func ToEthState(id ID, s *State) EthState {
	allocs := make([]EthAllocation, len(s.Allocations))
	for i, a := range s.Allocations {
		amount := a.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		allocs[i] = EthAllocation{
			Destination: common.Address(a.Destination),
			Token:       a.Asset.EthAddress(),
			Amount:      amount,
		}
	}
	data := s.Data
	if data == nil {
		data = []byte{}
	}
	return EthState{
		ChannelID:   id,
		Intent:      uint8(s.Intent),
		Version:     new(big.Int).SetUint64(s.Version),
		Data:        data,
		Allocations: allocs,
	}
}

// EncodeEthState returns abi.encode(channelId, intent, version, data, allocations).
func EncodeEthState(state *EthState) ([]byte, error) {
	return stateArgs.Pack(
		state.ChannelID,
		state.Intent,
		state.Version,
		state.Data,
		state.Allocations,
	)
}

// PackState returns the ABI encoding of s bound to channel id. Signatures are
// not part of the encoding.
func PackState(id ID, s *State) ([]byte, error) {
	es := ToEthState(id, s)
	packed, err := EncodeEthState(&es)
	return packed, errors.WithMessage(err, "packing state")
}

// StateHash returns keccak256(PackState(id, s)).
func StateHash(id ID, s *State) (common.Hash, error) {
	packed, err := PackState(id, s)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// ChallengeHash returns the digest a challenger signs to prove it is a
// participant: keccak256(PackState(id, s) ‖ "challenge").
func ChallengeHash(id ID, s *State) (common.Hash, error) {
	packed, err := PackState(id, s)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed, []byte(challengeSuffix)), nil
}

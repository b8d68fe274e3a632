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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

const (
	stateTypeName      = "AllowStateHash"
	allocationTypeName = "Allocation"
)

// NoStructuredSupport is the domain separator of custody contracts that do
// not support EIP-712 signatures. Structured verification is skipped for it.
var NoStructuredSupport = crypto.Keccak256Hash([]byte("NoEIP712Support"))

var stateTypes = apitypes.Types{
	stateTypeName: {
		{Name: "channelId", Type: "bytes32"},
		{Name: "intent", Type: "uint8"},
		{Name: "version", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "allocations", Type: "Allocation[]"},
	},
	allocationTypeName: {
		{Name: "destination", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	},
}

// structDomain only satisfies the typed data validation of HashStruct, which
// does not hash the domain. The custody's separator enters in TypedDataHash.
var structDomain = apitypes.TypedDataDomain{Name: "NitroCustody"}

// StructHash returns the EIP-712 struct hash of the state.
func StructHash(id ID, s *State) (common.Hash, error) {
	es := ToEthState(id, s)
	allocs := make([]interface{}, len(es.Allocations))
	for i, a := range es.Allocations {
		allocs[i] = map[string]interface{}{
			"destination": a.Destination.Hex(),
			"token":       a.Token.Hex(),
			"amount":      a.Amount,
		}
	}
	td := apitypes.TypedData{Types: stateTypes, PrimaryType: stateTypeName, Domain: structDomain}
	h, err := td.HashStruct(stateTypeName, apitypes.TypedDataMessage{
		"channelId":   hexutil.Encode(es.ChannelID[:]),
		"intent":      new(big.Int).SetUint64(uint64(es.Intent)),
		"version":     es.Version,
		"data":        es.Data,
		"allocations": allocs,
	})
	if err != nil {
		return common.Hash{}, errors.WithMessage(err, "hashing typed state")
	}
	return common.BytesToHash(h), nil
}

// TypedDataHash returns keccak256(0x1901 ‖ domain ‖ structHash).
func TypedDataHash(domain, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain[:], structHash[:])
}

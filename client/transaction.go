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

package client

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"perun.network/perun-nitro-backend/channel"
)

// custodyABI lists the custody contract methods the backend calls.
const custodyABI = `[
	{"type":"function","name":"checkpoint","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"candidate","type":"tuple","components":` + stateComponents + `},
		{"name":"proofs","type":"tuple[]","components":` + stateComponents + `}],"outputs":[]},
	{"type":"function","name":"challenge","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"candidate","type":"tuple","components":` + stateComponents + `},
		{"name":"proofs","type":"tuple[]","components":` + stateComponents + `},
		{"name":"challengerSig","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"close","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"candidate","type":"tuple","components":` + stateComponents + `},
		{"name":"proofs","type":"tuple[]","components":` + stateComponents + `}],"outputs":[]},
	{"type":"function","name":"resize","stateMutability":"nonpayable","inputs":[
		{"name":"channelId","type":"bytes32"},
		{"name":"candidate","type":"tuple","components":` + stateComponents + `},
		{"name":"proofs","type":"tuple[]","components":` + stateComponents + `}],"outputs":[]},
	{"type":"function","name":"eip712Domain","stateMutability":"view","inputs":[],"outputs":[
		{"name":"fields","type":"bytes1"},
		{"name":"name","type":"string"},
		{"name":"version","type":"string"},
		{"name":"chainId","type":"uint256"},
		{"name":"verifyingContract","type":"address"},
		{"name":"salt","type":"bytes32"},
		{"name":"extensions","type":"uint256[]"}]}
]`

const stateComponents = `[
	{"name":"intent","type":"uint8"},
	{"name":"version","type":"uint256"},
	{"name":"data","type":"bytes"},
	{"name":"allocations","type":"tuple[]","components":[
		{"name":"destination","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"}]},
	{"name":"sigs","type":"bytes[]"}]`

// signerABI holds the ERC-1271 and ERC-6492 validation methods.
const signerABI = `[
	{"type":"function","name":"isValidSignature","stateMutability":"view","inputs":[
		{"name":"hash","type":"bytes32"},
		{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bytes4"}]},
	{"type":"function","name":"isValidSig","stateMutability":"nonpayable","inputs":[
		{"name":"signer","type":"address"},
		{"name":"hash","type":"bytes32"},
		{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	// CustodyABI is the parsed custody contract ABI.
	CustodyABI abi.ABI
	// SignerABI is the parsed signature validation ABI.
	SignerABI abi.ABI
)

func init() {
	var err error
	if CustodyABI, err = abi.JSON(strings.NewReader(custodyABI)); err != nil {
		panic(err)
	}
	if SignerABI, err = abi.JSON(strings.NewReader(signerABI)); err != nil {
		panic(err)
	}
}

// ContractState is the custody contract's representation of a signed state.
type ContractState struct {
	Intent      uint8
	Version     *big.Int
	Data        []byte
	Allocations []channel.EthAllocation
	Sigs        [][]byte
}

// MakeContractState converts s of channel id for a custody call.
func MakeContractState(id channel.ID, s *channel.State) ContractState {
	es := channel.ToEthState(id, s)
	sigs := make([][]byte, len(s.Sigs))
	for i, sig := range s.Sigs {
		if sig == nil {
			sig = []byte{}
		}
		sigs[i] = sig
	}
	return ContractState{
		Intent:      es.Intent,
		Version:     es.Version,
		Data:        es.Data,
		Allocations: es.Allocations,
		Sigs:        sigs,
	}
}

func makeContractStates(id channel.ID, ss []*channel.State) []ContractState {
	cs := make([]ContractState, len(ss))
	for i, s := range ss {
		cs[i] = MakeContractState(id, s)
	}
	return cs
}

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

package event

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
)

// custodyEventsABI lists the events of the custody contract.
const custodyEventsABI = `[
	{"type":"event","name":"Created","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true},
		{"name":"wallet","type":"address","indexed":true}]},
	{"type":"event","name":"Joined","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true},
		{"name":"index","type":"uint256","indexed":false}]},
	{"type":"event","name":"Opened","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true}]},
	{"type":"event","name":"Checkpointed","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true},
		{"name":"version","type":"uint256","indexed":false}]},
	{"type":"event","name":"Challenged","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true},
		{"name":"expiration","type":"uint256","indexed":false}]},
	{"type":"event","name":"Resized","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true},
		{"name":"deltaAllocations","type":"int256[]","indexed":false}]},
	{"type":"event","name":"Closed","inputs":[
		{"name":"channelId","type":"bytes32","indexed":true}]}
]`

var (
	// CustodyEvents is the parsed custody event ABI.
	CustodyEvents abi.ABI

	custodyTopics = map[string]EventType{
		"Created":      EventTypeOpen,
		"Joined":       EventTypeJoined,
		"Opened":       EventTypeActivated,
		"Checkpointed": EventTypeCheckpointed,
		"Challenged":   EventTypeChallenged,
		"Resized":      EventTypeResized,
		"Closed":       EventTypeClosed,
	}

	ErrNotCustodyContract = errors.New("log was not emitted by the custody contract")
	ErrEventUnsupported   = errors.New("this type of event is unsupported")
	ErrEventDecode        = errors.New("error while decoding events")
)

func init() {
	var err error
	CustodyEvents, err = abi.JSON(strings.NewReader(custodyEventsABI))
	if err != nil {
		panic(err)
	}
}

// SettlementEvent is a custody contract log observed on a settlement network.
type SettlementEvent struct {
	Type        EventType
	Name        string
	ChannelID   channel.ID
	NetworkID   uint64
	Contract    common.Address
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	// Fields holds the decoded non-indexed event arguments.
	Fields map[string]interface{}
}

// Topics returns the topic hashes of all custody events, for log filters.
func Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(CustodyEvents.Events))
	for _, ev := range CustodyEvents.Events {
		topics = append(topics, ev.ID)
	}
	return topics
}

// Decode decodes a custody contract log of network networkID.
func Decode(networkID uint64, custody common.Address, l types.Log) (*SettlementEvent, error) {
	if l.Address != custody {
		return nil, ErrNotCustodyContract
	}
	if len(l.Topics) < 2 {
		return nil, errors.WithMessage(ErrEventDecode, "missing channel id topic")
	}
	ev, err := CustodyEvents.EventByID(l.Topics[0])
	if err != nil {
		return nil, ErrEventUnsupported
	}
	typ, ok := custodyTopics[ev.Name]
	if !ok {
		return nil, ErrEventUnsupported
	}
	fields := make(map[string]interface{})
	if err := ev.Inputs.UnpackIntoMap(fields, l.Data); err != nil {
		return nil, errors.WithMessagef(ErrEventDecode, "%s: %v", ev.Name, err)
	}
	if len(l.Topics) > 2 { //nolint:gomnd
		fields["wallet"] = common.BytesToAddress(l.Topics[2].Bytes())
	}
	return &SettlementEvent{
		Type:        typ,
		Name:        ev.Name,
		ChannelID:   channel.ID(l.Topics[1]),
		NetworkID:   networkID,
		Contract:    l.Address,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		BlockNumber: l.BlockNumber,
		Fields:      fields,
	}, nil
}

// Expiration returns the dispute expiry of a Challenged event.
func (e *SettlementEvent) Expiration() (uint64, bool) {
	v, ok := e.Fields["expiration"].(*big.Int)
	if !ok {
		return 0, false
	}
	return v.Uint64(), true
}

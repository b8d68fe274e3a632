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

package wire

import (
	"time"

	"github.com/ethereum/go-ethereum/common/math"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/queue"
)

// Record is the wire form of a channel record. ChallengeExpiry is a unix
// timestamp and zero outside of disputes.
type Record struct {
	ID              channel.ID              `json:"channel_id"`
	ChainID         uint64                  `json:"chain_id"`
	Channel         Channel                 `json:"channel"`
	Status          string                  `json:"status"`
	Deposited       []*math.HexOrDecimal256 `json:"deposited"`
	Initial         State                   `json:"initial"`
	LastValid       *State                  `json:"last_valid,omitempty"`
	ChallengeExpiry int64                   `json:"challenge_expiry,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// MakeRecord converts a custody record to its wire form.
func MakeRecord(r *custody.Record) Record {
	w := Record{
		ID:        r.ID,
		ChainID:   r.Chain,
		Channel:   MakeChannel(&r.Channel),
		Status:    r.Status.String(),
		Deposited: make([]*math.HexOrDecimal256, len(r.Deposited)),
		Initial:   MakeState(r.Initial),
		UpdatedAt: r.UpdatedAt,
	}
	for i, d := range r.Deposited {
		w.Deposited[i] = MakeAmount(d)
	}
	if r.LastValid != nil {
		lv := MakeState(r.LastValid)
		w.LastValid = &lv
	}
	if r.Status == custody.StatusDispute {
		w.ChallengeExpiry = r.ChallengeExpiry.Unix()
	}
	return w
}

// Action is the wire form of a blockchain action.
type Action struct {
	ID         uint64     `json:"id"`
	Type       string     `json:"type"`
	ChannelID  channel.ID `json:"channel_id"`
	NetworkID  uint64     `json:"network_id"`
	Version    uint64     `json:"version"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	TxRef      string     `json:"tx_ref,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MakeAction converts an action to its wire form. The payload is omitted.
func MakeAction(a *queue.Action) Action {
	return Action{
		ID:         a.ID,
		Type:       string(a.Type),
		ChannelID:  a.ChannelID,
		NetworkID:  a.NetworkID,
		Version:    a.Version,
		Status:     string(a.Status),
		RetryCount: a.RetryCount,
		LastError:  a.LastError,
		TxRef:      a.TxRef,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// MakeActions converts a list of actions.
func MakeActions(as []*queue.Action) []Action {
	res := make([]Action, len(as))
	for i, a := range as {
		res[i] = MakeAction(a)
	}
	return res
}

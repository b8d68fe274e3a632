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

package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"perun.network/perun-nitro-backend/channel"
)

// Type names the custody call an action submits.
type Type string

// Action types.
const (
	TypeCheckpoint Type = "checkpoint"
	TypeChallenge  Type = "challenge"
	TypeClose      Type = "close"
	TypeResize     Type = "resize"
)

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	switch t {
	case TypeCheckpoint, TypeChallenge, TypeClose, TypeResize:
		return true
	}
	return false
}

// Status is the processing status of an action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Action is a settlement call that must eventually reach a network. Actions
// are never deleted.
type Action struct {
	ID         uint64
	Type       Type
	ChannelID  channel.ID
	NetworkID  uint64
	Version    uint64
	Payload    json.RawMessage
	Status     Status
	RetryCount int
	LastError  string
	TxRef      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key identifies the settlement target of an action. At most one action
// exists per key.
type Key struct {
	ChannelID channel.ID
	Type      Type
	Version   uint64
}

// Key returns the idempotency key of a.
func (a *Action) Key() Key {
	return Key{ChannelID: a.ChannelID, Type: a.Type, Version: a.Version}
}

// Clone returns a deep copy of a.
func (a *Action) Clone() *Action {
	c := *a
	if a.Payload != nil {
		c.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return &c
}

func (a *Action) String() string {
	return fmt.Sprintf("action %d (%s v%d on %v, network %d)", a.ID, a.Type, a.Version, a.ChannelID, a.NetworkID)
}

func (t Type) String() string { return string(t) }

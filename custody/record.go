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

package custody

import (
	"fmt"
	"math/big"
	"time"

	"perun.network/perun-nitro-backend/channel"
)

// Status is the lifecycle status of a channel.
type Status int

const (
	StatusVoid Status = iota
	StatusInitial
	StatusActive
	StatusDispute
	StatusFinal
)

var statusNames = [...]string{"VOID", "INITIAL", "ACTIVE", "DISPUTE", "FINAL"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus parses the String form of a status.
func ParseStatus(s string) (Status, error) {
	for i, n := range statusNames {
		if n == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel status %q", s) //nolint: goerr113
}

// Record is the custody's view of a channel. Records are never deleted.
type Record struct {
	ID      channel.ID
	Chain   uint64
	Channel channel.Channel
	Status  Status
	// Initial is the version 0 state. Its signatures fill up as
	// participants join.
	Initial *channel.State
	// Deposited is the amount locked by each participant.
	Deposited []*big.Int
	// LastValid is the latest adjudicated state. Nil until ACTIVE.
	LastValid       *channel.State
	ChallengeExpiry time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	c.Channel = r.Channel.Clone()
	c.Initial = r.Initial.Clone()
	c.LastValid = r.LastValid.Clone()
	c.Deposited = make([]*big.Int, len(r.Deposited))
	for i, d := range r.Deposited {
		c.Deposited[i] = new(big.Int).Set(d)
	}
	return &c
}

// Joined reports whether participant idx has signed the initial state.
func (r *Record) Joined(idx int) bool {
	return idx < len(r.Initial.Sigs) && len(r.Initial.Sigs[idx]) > 0
}

// Remaining returns the amount participant idx still has to deposit.
func (r *Record) Remaining(idx int) *big.Int {
	return new(big.Int).Sub(r.Initial.Allocations[idx].Amount, r.Deposited[idx])
}

// Funded reports whether every participant deposited and signed.
func (r *Record) Funded() bool {
	for i := range r.Channel.Participants {
		if !r.Joined(i) || r.Remaining(i).Sign() != 0 {
			return false
		}
	}
	return true
}

// Current returns the latest known state: LastValid once active, the
// initial state before.
func (r *Record) Current() *channel.State {
	if r.LastValid != nil {
		return r.LastValid
	}
	return r.Initial
}

// Expired reports whether the challenge period has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.Status == StatusDispute && now.After(r.ChallengeExpiry)
}

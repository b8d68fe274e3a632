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

// Package wire contains the JSON forms of channels, states, records and
// actions exchanged over NitroRPC.
package wire

import (
	"time"

	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/wallet/types"
)

// Channel is the wire form of a channel definition. Challenge is in
// seconds.
type Channel struct {
	Participants []types.Address `json:"participants"`
	Adjudicator  types.Address   `json:"adjudicator"`
	Challenge    uint64          `json:"challenge"`
	Nonce        uint64          `json:"nonce"`
}

// MakeChannel converts a channel to its wire form.
func MakeChannel(c *channel.Channel) Channel {
	return Channel{
		Participants: append([]types.Address(nil), c.Participants...),
		Adjudicator:  c.Adjudicator,
		Challenge:    c.ChallengeSeconds(),
		Nonce:        c.Nonce,
	}
}

// ToChannel converts a wire channel and validates it.
func ToChannel(c Channel) (*channel.Channel, error) {
	ch := &channel.Channel{
		Participants: append([]types.Address(nil), c.Participants...),
		Adjudicator:  c.Adjudicator,
		Challenge:    time.Duration(c.Challenge) * time.Second,
		Nonce:        c.Nonce,
	}
	if err := ch.Validate(); err != nil {
		return nil, errors.WithMessage(err, "decoding channel")
	}
	return ch, nil
}

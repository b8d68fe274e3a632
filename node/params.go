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

package node

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/wallet/types"
	"perun.network/perun-nitro-backend/wire"
)

// Method names.
const (
	MethodPing             = "ping"
	MethodGetConfig        = "get_config"
	MethodOpenChannel      = "open_channel"
	MethodJoinChannel      = "join_channel"
	MethodCheckpoint       = "checkpoint"
	MethodChallengeChannel = "challenge_channel"
	MethodCounterChallenge = "counter_challenge"
	MethodReclaim          = "reclaim"
	MethodCloseChannel     = "close_channel"
	MethodResizeChannel    = "resize_channel"
	MethodGetChannel       = "get_channel"
	MethodGetActions       = "get_actions"
	MethodResubmitAction   = "resubmit_action"
)

type (
	// NetworkConfig describes a settlement network served by the node.
	NetworkConfig struct {
		ChainID        uint64        `json:"chain_id"`
		CustodyAddress types.Address `json:"custody"`
		Adjudicator    types.Address `json:"adjudicator"`
		// Domain is the custody's EIP-712 domain separator.
		Domain common.Hash `json:"domain"`
	}

	// Config is the result of get_config.
	Config struct {
		ServerAddress types.Address   `json:"server_address"`
		Networks      []NetworkConfig `json:"networks"`
	}

	// OpenParams opens a channel on a network.
	OpenParams struct {
		ChainID uint64       `json:"chain_id"`
		Channel wire.Channel `json:"channel"`
		State   wire.State   `json:"state"`
	}

	// JoinParams deposits into a channel on behalf of the session's
	// address.
	JoinParams struct {
		ChannelID channel.ID            `json:"channel_id"`
		Amount    *math.HexOrDecimal256 `json:"amount"`
		Sig       types.Sig             `json:"sig"`
	}

	// StateParams carries a candidate state and its proofs.
	StateParams struct {
		ChannelID channel.ID   `json:"channel_id"`
		State     wire.State   `json:"state"`
		Proofs    []wire.State `json:"proofs"`
	}

	// ChallengeParams starts a dispute. ChallengerSig is the session
	// address's signature over the challenge hash of State.
	ChallengeParams struct {
		ChannelID     channel.ID   `json:"channel_id"`
		State         wire.State   `json:"state"`
		Proofs        []wire.State `json:"proofs"`
		ChallengerSig types.Sig    `json:"challenger_sig"`
	}

	// ChannelParams names a channel.
	ChannelParams struct {
		ChannelID channel.ID `json:"channel_id"`
	}

	// ActionParams names an action.
	ActionParams struct {
		ID uint64 `json:"id"`
	}

	// ChannelResult is the result of channel operations. State is the
	// countersigned candidate, Action the enqueued settlement action.
	ChannelResult struct {
		Record wire.Record  `json:"record"`
		State  *wire.State  `json:"state,omitempty"`
		Action *wire.Action `json:"action,omitempty"`
	}
)

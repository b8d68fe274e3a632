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
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
)

var (
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrChannelExists       = errors.New("channel already exists")
	ErrInvalidStatus       = errors.New("operation not allowed in current channel status")
	ErrAlreadyFinal        = errors.New("channel is already final")
	ErrExcessDeposit       = errors.New("deposit exceeds the remaining required amount")
	ErrAlreadyJoined       = errors.New("participant already signed the initial state")
	ErrNotParticipant      = errors.New("address is not a channel participant")
	ErrStaleState          = errors.New("candidate version must be newer than the recorded state")
	ErrChallengeExpired    = errors.New("challenge period has expired")
	ErrChallengeNotExpired = errors.New("challenge period has not expired yet")
	ErrNotConclusive       = errors.New("close requires a state the adjudicator concludes")
	ErrProofMismatch       = errors.New("resize proof must be the last valid state")
	ErrInsufficientReserve = errors.New("insufficient available balance")
	ErrChallengeTooShort   = errors.New("challenge duration below minimum")
	ErrNoAdjudicator       = errors.New("no adjudicator registered for channel")
	ErrLockedFunds         = errors.New("allocation sums must equal the locked funds")
	ErrLockTimeout         = errors.New("timed out waiting for channel lock")
)

func conflict(err error) error {
	return channel.WithKind(channel.KindStateConflict, err)
}

func invalid(err error) error {
	return channel.WithKind(channel.KindValidation, err)
}

func statusConflict(op string, s Status) error {
	return conflict(errors.WithMessagef(ErrInvalidStatus, "%s in %s", op, s))
}

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
	"encoding/json"

	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/wallet/types"
)

// Submission is the payload of a blockchain action: everything the custody
// contract needs to replay the decision on chain.
type Submission struct {
	Channel       Channel   `json:"channel"`
	Candidate     State     `json:"candidate"`
	Proofs        []State   `json:"proofs"`
	ChallengerSig types.Sig `json:"challenger_sig,omitempty"`
}

// MakeSubmission bundles a decision for the action queue.
func MakeSubmission(c *channel.Channel, candidate *channel.State, proofs []*channel.State, challengerSig types.Sig) Submission {
	return Submission{
		Channel:       MakeChannel(c),
		Candidate:     MakeState(candidate),
		Proofs:        MakeStates(proofs),
		ChallengerSig: challengerSig.Clone(),
	}
}

// Decision is a decoded Submission.
type Decision struct {
	Channel       *channel.Channel
	Candidate     *channel.State
	Proofs        []*channel.State
	ChallengerSig types.Sig
}

// DecodeSubmission decodes the payload of an action.
func DecodeSubmission(a *queue.Action) (*Decision, error) {
	var s Submission
	if err := json.Unmarshal(a.Payload, &s); err != nil {
		return nil, errors.Wrapf(err, "decoding payload of %v", a)
	}
	ch, err := ToChannel(s.Channel)
	if err != nil {
		return nil, err
	}
	candidate, err := ToState(s.Candidate)
	if err != nil {
		return nil, err
	}
	proofs, err := ToStates(s.Proofs)
	if err != nil {
		return nil, err
	}
	return &Decision{Channel: ch, Candidate: candidate, Proofs: proofs, ChallengerSig: s.ChallengerSig}, nil
}

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
	"context"
	"fmt"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"
)

// Verdict is the outcome of adjudicating a candidate state.
type Verdict int

const (
	// Reject means the candidate is not valid.
	Reject Verdict = iota
	// Accept means the candidate is valid.
	Accept
	// Conclude means the candidate is valid and closes the channel.
	Conclude
)

func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Accept:
		return "accept"
	case Conclude:
		return "conclude"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// ErrProofCount is returned when a policy receives the wrong number of proofs.
var ErrProofCount = errors.New("wrong number of proof states")

// Adjudicator decides whether a candidate state is authoritative given the
// supporting proof states. Rejections are deterministic.
type Adjudicator interface {
	Adjudicate(ctx context.Context, c *Channel, candidate *State, proofs []*State) (Verdict, error)
}

// Consensus accepts states signed by every participant without proofs.
type Consensus struct {
	log.Embedding
	backend *Backend
}

// ConsensusTransition accepts states signed by every participant that
// directly follow a single proof state signed by every participant.
type ConsensusTransition struct {
	log.Embedding
	consensus *Consensus
}

var (
	_ Adjudicator = (*Consensus)(nil)
	_ Adjudicator = (*ConsensusTransition)(nil)
)

// NewConsensus returns the unanimous consent policy.
func NewConsensus(b *Backend) *Consensus {
	return &Consensus{Embedding: log.MakeEmbedding(log.Default()), backend: b}
}

// NewConsensusTransition returns the unanimous consent policy with
// transition checks.
func NewConsensusTransition(b *Backend) *ConsensusTransition {
	return &ConsensusTransition{Embedding: log.MakeEmbedding(log.Default()), consensus: NewConsensus(b)}
}

// Adjudicate accepts candidates without proofs that carry one valid
// signature per participant. Version 0 candidates must have INITIALIZE
// intent.
func (a *Consensus) Adjudicate(ctx context.Context, c *Channel, candidate *State, proofs []*State) (Verdict, error) {
	if len(proofs) != 0 {
		return Reject, invalid(errors.WithMessagef(ErrProofCount, "consensus takes no proofs, got %d", len(proofs)))
	}
	id, err := a.backend.CalcID(c)
	if err != nil {
		return Reject, invalid(err)
	}
	if err := a.validateSigned(ctx, c, id, candidate); err != nil {
		a.Log().WithField("channel", id).Debugf("Rejected state %d: %v", candidate.Version, err)
		return Reject, err
	}
	return verdictOf(candidate), nil
}

func (a *Consensus) validateSigned(ctx context.Context, c *Channel, id ID, s *State) error {
	if err := s.Validate(c); err != nil {
		return err
	}
	if s.Version == 0 && s.Intent != IntentInitialize {
		return invalid(ErrGenesisIntent)
	}
	return a.backend.ValidateUnanimousSignatures(ctx, c, id, s)
}

// Adjudicate treats version 0 candidates like Consensus. Later candidates
// need exactly one proof which they must directly follow or resize, and both must be
// signed by every participant.
func (a *ConsensusTransition) Adjudicate(ctx context.Context, c *Channel, candidate *State, proofs []*State) (Verdict, error) {
	if candidate.Version == 0 {
		return a.consensus.Adjudicate(ctx, c, candidate, proofs)
	}
	if len(proofs) != 1 {
		return Reject, invalid(errors.WithMessagef(ErrProofCount, "transition takes exactly one proof, got %d", len(proofs)))
	}
	id, err := a.consensus.backend.CalcID(c)
	if err != nil {
		return Reject, invalid(err)
	}
	proof := proofs[0]
	if err := validateStep(proof, candidate); err != nil {
		a.Log().WithField("channel", id).Debugf("Rejected transition %d -> %d: %v", proof.Version, candidate.Version, err)
		return Reject, err
	}
	if err := a.consensus.validateSigned(ctx, c, id, proof); err != nil {
		return Reject, errors.WithMessage(err, "proof")
	}
	if err := a.consensus.validateSigned(ctx, c, id, candidate); err != nil {
		return Reject, errors.WithMessage(err, "candidate")
	}
	return verdictOf(candidate), nil
}

// validateStep accepts resizes of proof and regular transitions.
func validateStep(proof, candidate *State) error {
	if candidate.Intent == IntentResize {
		_, err := ValidateResize(proof, candidate)
		return err
	}
	return ValidateTransition(proof, candidate)
}

func verdictOf(s *State) Verdict {
	if s.IsFinal() {
		return Conclude
	}
	return Accept
}

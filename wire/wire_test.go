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

package wire_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel"
	chtest "perun.network/perun-nitro-backend/channel/test"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/wire"
)

func TestSignedStateSurvivesJSON(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	next := s.Resize(s.Initial, 10, -5)

	data, err := json.Marshal(wire.MakeState(next))
	require.NoError(t, err)
	var w wire.State
	require.NoError(t, json.Unmarshal(data, &w))
	decoded, err := wire.ToState(w)
	require.NoError(t, err)

	require.Equal(t, next.Version, decoded.Version)
	require.Equal(t, next.Intent, decoded.Intent)
	require.NoError(t, s.Backend.ValidateUnanimousSignatures(context.Background(), s.Channel, s.ID, decoded))
}

func TestChannelIDSurvivesJSON(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 3)

	data, err := json.Marshal(wire.MakeChannel(s.Channel))
	require.NoError(t, err)
	var w wire.Channel
	require.NoError(t, json.Unmarshal(data, &w))
	ch, err := wire.ToChannel(w)
	require.NoError(t, err)

	id, err := s.Backend.CalcID(ch)
	require.NoError(t, err)
	require.Equal(t, s.ID, id)
}

func TestToStateRejectsMalformed(t *testing.T) {
	var w wire.State
	require.NoError(t, json.Unmarshal([]byte(`{"intent":9,"version":1}`), &w))
	_, err := wire.ToState(w)
	require.Equal(t, channel.KindValidation, channel.KindOf(err))

	require.NoError(t, json.Unmarshal([]byte(`{"intent":0,"version":1,"allocations":[{"destination":"0x0000000000000000000000000000000000000001"}]}`), &w))
	_, err = wire.ToState(w)
	require.Error(t, err)

	// Decimal and hex amounts are both accepted.
	require.NoError(t, json.Unmarshal([]byte(`{"intent":0,"version":1,"allocations":[{"amount":"100"},{"amount":"0x64"}]}`), &w))
	st, err := wire.ToState(w)
	require.NoError(t, err)
	require.Zero(t, st.Allocations[0].Amount.Cmp(big.NewInt(100)))
	require.Zero(t, st.Allocations[1].Amount.Cmp(big.NewInt(100)))

	_, err = wire.ToChannel(wire.Channel{Challenge: 60})
	require.ErrorIs(t, err, channel.ErrTooFewParticipants)
}

func TestSubmissionRoundTrip(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	next := s.Next(s.Initial, channel.IntentOperate, 10)
	sig := s.SignChallenge(0, next)

	payload, err := json.Marshal(wire.MakeSubmission(s.Channel, next, []*channel.State{s.Initial}, sig))
	require.NoError(t, err)
	d, err := wire.DecodeSubmission(&queue.Action{Type: queue.TypeChallenge, Payload: payload})
	require.NoError(t, err)

	require.Len(t, d.Proofs, 1)
	require.Equal(t, sig, d.ChallengerSig)
	ok, err := s.Backend.VerifyChallenge(s.Parts[0], s.ID, d.Candidate, d.ChallengerSig)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = wire.DecodeSubmission(&queue.Action{Payload: []byte("{")})
	require.Error(t, err)
}

func TestMakeRecord(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	r := &custody.Record{
		ID:        s.ID,
		Chain:     chtest.DefaultChainID,
		Channel:   s.Channel.Clone(),
		Status:    custody.StatusActive,
		Initial:   s.Initial,
		LastValid: s.Initial,
		Deposited: []*big.Int{s.Deposit(0), s.Deposit(1)},
	}
	w := wire.MakeRecord(r)
	require.Equal(t, "ACTIVE", w.Status)
	require.NotNil(t, w.LastValid)
	require.Zero(t, w.ChallengeExpiry)

	data, err := json.Marshal(w)
	require.NoError(t, err)
	require.Contains(t, string(data), s.ID.String())
}

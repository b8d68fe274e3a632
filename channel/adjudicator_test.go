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

package channel_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel"
	chtest "perun.network/perun-nitro-backend/channel/test"
)

func TestConsensus(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	ctx := context.Background()
	adj := channel.NewConsensus(s.Backend)

	v, err := adj.Adjudicate(ctx, s.Channel, s.Initial, nil)
	require.NoError(t, err)
	require.Equal(t, channel.Accept, v)

	t.Run("proofs", func(t *testing.T) {
		v, err := adj.Adjudicate(ctx, s.Channel, s.Initial, []*channel.State{s.Initial})
		require.ErrorIs(t, err, channel.ErrProofCount)
		require.Equal(t, channel.Reject, v)
	})

	t.Run("genesis intent", func(t *testing.T) {
		st := s.Initial.WithoutSigs()
		st.Intent = channel.IntentOperate
		s.SignAll(st)
		_, err := adj.Adjudicate(ctx, s.Channel, st, nil)
		require.ErrorIs(t, err, channel.ErrGenesisIntent)
	})

	t.Run("missing signature", func(t *testing.T) {
		st := s.Initial.Clone()
		st.Sigs = st.Sigs[:1]
		v, err := adj.Adjudicate(ctx, s.Channel, st, nil)
		require.Error(t, err)
		require.Equal(t, channel.KindSignature, channel.KindOf(err))
		require.Equal(t, channel.Reject, v)
	})

	t.Run("final", func(t *testing.T) {
		st := s.Next(s.Initial, channel.IntentFinalize, 1)
		v, err := adj.Adjudicate(ctx, s.Channel, st, nil)
		require.NoError(t, err)
		require.Equal(t, channel.Conclude, v)
	})
}

func TestConsensusTransition(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	ctx := context.Background()
	adj := channel.NewConsensusTransition(s.Backend)

	v, err := adj.Adjudicate(ctx, s.Channel, s.Initial, nil)
	require.NoError(t, err)
	require.Equal(t, channel.Accept, v)

	v1 := s.Next(s.Initial, channel.IntentOperate, 5)
	v, err = adj.Adjudicate(ctx, s.Channel, v1, []*channel.State{s.Initial})
	require.NoError(t, err)
	require.Equal(t, channel.Accept, v)

	t.Run("no proof", func(t *testing.T) {
		_, err := adj.Adjudicate(ctx, s.Channel, v1, nil)
		require.ErrorIs(t, err, channel.ErrProofCount)
	})

	t.Run("version gap", func(t *testing.T) {
		v3 := s.Next(s.Next(v1, channel.IntentOperate, 1), channel.IntentOperate, 1)
		_, err := adj.Adjudicate(ctx, s.Channel, v3, []*channel.State{v1})
		require.ErrorIs(t, err, channel.ErrVersionIncrement)
		require.Contains(t, err.Error(), "version must increase by exactly 1")
	})

	t.Run("sum change", func(t *testing.T) {
		bad := v1.WithoutSigs()
		bad.Version = 2
		bad.Allocations[0].Amount = new(big.Int).Add(bad.Allocations[0].Amount, big.NewInt(1))
		s.SignAll(bad)
		_, err := adj.Adjudicate(ctx, s.Channel, bad, []*channel.State{v1})
		require.ErrorIs(t, err, channel.ErrSumMismatch)
		require.Equal(t, channel.KindValidation, channel.KindOf(err))
	})

	t.Run("unsigned proof", func(t *testing.T) {
		proof := v1.Clone()
		proof.Sigs = proof.Sigs[:1]
		v2 := s.Next(v1, channel.IntentOperate, 1)
		_, err := adj.Adjudicate(ctx, s.Channel, v2, []*channel.State{proof})
		require.Equal(t, channel.KindSignature, channel.KindOf(err))
	})

	t.Run("resize", func(t *testing.T) {
		resized := s.Resize(v1, 10, 0)
		v, err := adj.Adjudicate(ctx, s.Channel, resized, []*channel.State{v1})
		require.NoError(t, err)
		require.Equal(t, channel.Accept, v)

		bad := resized.WithoutSigs()
		bad.Allocations[1].Amount = new(big.Int).Add(bad.Allocations[1].Amount, big.NewInt(1))
		s.SignAll(bad)
		_, err = adj.Adjudicate(ctx, s.Channel, bad, []*channel.State{v1})
		require.Equal(t, channel.KindValidation, channel.KindOf(err))
	})

	t.Run("conclude", func(t *testing.T) {
		fin := s.Next(v1, channel.IntentFinalize, 0)
		v, err := adj.Adjudicate(ctx, s.Channel, fin, []*channel.State{v1})
		require.NoError(t, err)
		require.Equal(t, channel.Conclude, v)
	})
}

func TestValidateResize(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	v1 := s.Next(s.Initial, channel.IntentOperate, 1)

	resized := s.Resize(v1, 10, -1)
	deltas, err := channel.ValidateResize(v1, resized)
	require.NoError(t, err)
	require.Equal(t, []*big.Int{big.NewInt(10), big.NewInt(-1)}, deltas)

	t.Run("intent", func(t *testing.T) {
		_, err := channel.ValidateResize(v1, s.Next(v1, channel.IntentOperate, 0))
		require.ErrorIs(t, err, channel.ErrResizeIntent)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		bad := resized.WithoutSigs()
		bad.Allocations[0].Amount = new(big.Int).Add(bad.Allocations[0].Amount, big.NewInt(1))
		_, err := channel.ValidateResize(v1, bad)
		require.Error(t, err)
		require.Equal(t, channel.KindValidation, channel.KindOf(err))
	})

	t.Run("negative result", func(t *testing.T) {
		delta := new(big.Int).Neg(new(big.Int).Add(v1.Allocations[1].Amount, big.NewInt(1)))
		bad := v1.WithoutSigs()
		bad.Version++
		bad.Intent = channel.IntentResize
		bad.Allocations[1].Amount = new(big.Int).Add(bad.Allocations[1].Amount, delta)
		data, err := channel.EncodeResizeData([]*big.Int{big.NewInt(0), delta})
		require.NoError(t, err)
		bad.Data = data
		_, err = channel.ValidateResize(v1, bad)
		require.ErrorIs(t, err, channel.ErrNegativeAmount)
	})

	t.Run("garbage data", func(t *testing.T) {
		bad := resized.WithoutSigs()
		bad.Data = []byte{1, 2, 3}
		_, err := channel.ValidateResize(v1, bad)
		require.Equal(t, channel.KindValidation, channel.KindOf(err))
	})
}

func TestStateValidate(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	require.NoError(t, s.Initial.Validate(s.Channel))

	st := s.Initial.Clone()
	st.Version = 3
	require.ErrorIs(t, st.Validate(s.Channel), channel.ErrInitializeVersion)

	st = s.Initial.Clone()
	st.Allocations = st.Allocations[:1]
	require.Error(t, st.Validate(s.Channel))

	st = s.Initial.Clone()
	st.Allocations[0].Amount = new(big.Int).Lsh(big.NewInt(1), 256)
	require.ErrorIs(t, st.Validate(s.Channel), channel.ErrAmountOverflow)

	st = s.Initial.Clone()
	st.Allocations[0].Amount = big.NewInt(-1)
	require.ErrorIs(t, st.Validate(s.Channel), channel.ErrNegativeAmount)
}

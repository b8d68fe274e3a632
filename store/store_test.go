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

package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel"
	chtest "perun.network/perun-nitro-backend/channel/test"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/store"
)

func openTestStore(t *testing.T) *store.Store {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRecord(s *chtest.Setup) *custody.Record {
	return &custody.Record{
		ID:        s.ID,
		Chain:     s.Backend.ChainID,
		Channel:   *s.Channel,
		Status:    custody.StatusVoid,
		Initial:   s.Initial.Clone(),
		Deposited: []*big.Int{big.NewInt(0), big.NewInt(0)},
		UpdatedAt: time.Unix(100, 0).UTC(),
	}
}

func TestRecordStore(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	s := chtest.NewSetup(t, rng, 2)
	records := openTestStore(t).Records()

	r := newRecord(s)
	require.NoError(t, records.Create(ctx, r))
	require.ErrorIs(t, records.Create(ctx, r), custody.ErrChannelExists)

	got, err := records.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, r.Chain, got.Chain)
	require.Equal(t, r.Channel.Participants, got.Channel.Participants)
	require.Equal(t, r.Channel.Challenge, got.Channel.Challenge)
	require.Equal(t, r.Initial.Sigs, got.Initial.Sigs)
	require.Nil(t, got.LastValid)
	require.True(t, r.UpdatedAt.Equal(got.UpdatedAt))

	got.Status = custody.StatusDispute
	got.Deposited[0].SetInt64(5)
	got.LastValid = s.Next(s.Initial, channel.IntentOperate, 3)
	got.ChallengeExpiry = time.Unix(500, 0)
	got.UpdatedAt = time.Unix(200, 0)
	require.NoError(t, records.Update(ctx, got))

	again, err := records.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, custody.StatusDispute, again.Status)
	require.Zero(t, big.NewInt(5).Cmp(again.Deposited[0]))
	require.Equal(t, uint64(1), again.LastValid.Version)
	require.Equal(t, got.LastValid.Sigs, again.LastValid.Sigs)
	require.True(t, again.ChallengeExpiry.Equal(time.Unix(500, 0)))
	require.True(t, again.UpdatedAt.Equal(time.Unix(200, 0)))

	list, err := records.List(ctx, custody.StatusDispute)
	require.NoError(t, err)
	require.Len(t, list, 1)
	list, err = records.List(ctx, custody.StatusActive)
	require.NoError(t, err)
	require.Empty(t, list)

	missing := r.Clone()
	missing.ID[0] ^= 0xff
	require.ErrorIs(t, records.Update(ctx, missing), custody.ErrUnknownChannel)
	_, err = records.Get(ctx, missing.ID)
	require.ErrorIs(t, err, custody.ErrUnknownChannel)
}

func TestActionStore(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	s := chtest.NewSetup(t, rng, 2)
	st := openTestStore(t)
	require.NoError(t, st.Records().Create(ctx, newRecord(s)))
	actions := st.Actions()

	base := time.Unix(1000, 0).UTC()
	mk := func(typ queue.Type, version uint64, created time.Time) *queue.Action {
		return &queue.Action{
			Type:      typ,
			ChannelID: s.ID,
			NetworkID: s.Backend.ChainID,
			Version:   version,
			Payload:   json.RawMessage(`{"v":1}`),
			Status:    queue.StatusPending,
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	second, created, err := actions.Insert(ctx, mk(queue.TypeCheckpoint, 2, base.Add(time.Second)))
	require.NoError(t, err)
	require.True(t, created)
	first, created, err := actions.Insert(ctx, mk(queue.TypeCheckpoint, 1, base))
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, second.ID)

	dup, created, err := actions.Insert(ctx, mk(queue.TypeCheckpoint, 1, base.Add(time.Hour)))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, dup.ID)
	require.True(t, base.Equal(dup.CreatedAt))

	_, created, err = actions.Insert(ctx, mk(queue.TypeClose, 1, base.Add(2*time.Second)))
	require.NoError(t, err)
	require.True(t, created, "type is part of the key")

	pending, err := actions.Pending(ctx, s.Backend.ChainID, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID, "oldest first")
	require.Equal(t, second.ID, pending[1].ID)
	require.JSONEq(t, `{"v":1}`, string(pending[0].Payload))
	require.Equal(t, s.ID, pending[0].ChannelID)

	first.Status = queue.StatusCompleted
	first.TxRef = "0xabc"
	first.RetryCount = 2
	require.NoError(t, actions.Update(ctx, first))
	got, err := actions.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, got.Status)
	require.Equal(t, "0xabc", got.TxRef)
	require.Equal(t, 2, got.RetryCount)

	pending, err = actions.Pending(ctx, s.Backend.ChainID, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	pending, err = actions.Pending(ctx, s.Backend.ChainID+1, 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	all, err := actions.List(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = actions.Get(ctx, 9999)
	require.ErrorIs(t, err, queue.ErrUnknownAction)
	got.ID = 9999
	require.ErrorIs(t, actions.Update(ctx, got), queue.ErrUnknownAction)
}

func TestCustodySurvivesRestart(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	s := chtest.NewSetup(t, rng, 2)
	st := openTestStore(t)
	ledger := custody.NewMemoryLedger()
	for i, p := range s.Parts {
		require.NoError(t, ledger.Deposit(ctx, p, s.Asset, s.Deposit(i)))
	}
	newCustody := func() *custody.Custody {
		return custody.New(custody.Config{
			Backend:            s.Backend,
			DefaultAdjudicator: channel.NewConsensusTransition(s.Backend),
			Store:              st.Records(),
			Ledger:             ledger,
			Clock:              clock.NewMock(),
		})
	}

	c := newCustody()
	_, err := c.Open(ctx, s.Channel, s.Initial)
	require.NoError(t, err)
	for i, p := range s.Parts {
		_, err := c.Join(ctx, s.ID, p, s.Deposit(i), s.Initial.Sigs[i])
		require.NoError(t, err)
	}
	v1 := s.Next(s.Initial, channel.IntentOperate, 7)
	_, err = c.Checkpoint(ctx, s.ID, v1, []*channel.State{s.Initial})
	require.NoError(t, err)

	r, err := newCustody().Status(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, custody.StatusActive, r.Status)
	require.Equal(t, uint64(1), r.LastValid.Version)
	require.Zero(t, s.Deposit(0).Cmp(r.Deposited[0]))

	v2 := s.Next(v1, channel.IntentFinalize, 0)
	r, err = newCustody().Close(ctx, s.ID, v2, []*channel.State{v1})
	require.NoError(t, err)
	require.Equal(t, custody.StatusFinal, r.Status)
}

type okSubmitter struct{}

func (okSubmitter) Submit(_ context.Context, a *queue.Action) (string, error) {
	return fmt.Sprintf("0x%x", a.ID), nil
}

func TestQueueOnSQL(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	s := chtest.NewSetup(t, rng, 2)
	st := openTestStore(t)
	require.NoError(t, st.Records().Create(ctx, newRecord(s)))

	q := queue.New(st.Actions(), queue.Config{Clock: clock.NewMock()}, nil)
	defer q.Close()
	_, err := q.Register(s.Backend.ChainID, okSubmitter{})
	require.NoError(t, err)

	a, err := q.Enqueue(ctx, queue.TypeCheckpoint, s.ID, s.Backend.ChainID, 1, map[string]int{"v": 1})
	require.NoError(t, err)
	dup, err := q.Enqueue(ctx, queue.TypeCheckpoint, s.ID, s.Backend.ChainID, 1, map[string]int{"v": 2})
	require.NoError(t, err)
	require.Equal(t, a.ID, dup.ID)

	require.NoError(t, q.ProcessAll(ctx))
	done, err := q.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, done.Status)
	require.Equal(t, fmt.Sprintf("0x%x", a.ID), done.TxRef)
}

func TestLedgerStore(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	s := chtest.NewSetup(t, rng, 2)
	ledger := openTestStore(t).Ledger()
	acc := s.Parts[0]

	bal, err := ledger.Balance(ctx, acc, s.Asset)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	huge, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)
	require.NoError(t, ledger.Deposit(ctx, acc, s.Asset, huge))
	require.NoError(t, ledger.Deposit(ctx, acc, s.Asset, big.NewInt(5)))
	require.NoError(t, ledger.Withdraw(ctx, acc, s.Asset, big.NewInt(10)))

	bal, err = ledger.Balance(ctx, acc, s.Asset)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Sub(huge, big.NewInt(5)), bal)

	err = ledger.Withdraw(ctx, acc, s.Asset, huge)
	require.ErrorIs(t, err, custody.ErrInsufficientReserve)

	other, err := ledger.Balance(ctx, s.Parts[1], s.Asset)
	require.NoError(t, err)
	require.Zero(t, other.Sign())
}

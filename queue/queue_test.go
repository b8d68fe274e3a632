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

package queue_test

import (
	"context"
	"math/rand"
	stdsync "sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/queue"
)

const network = 1337

var errTransient = errors.New("rpc node unavailable")

// scriptedSubmitter fails with the queued errors before succeeding.
type scriptedSubmitter struct {
	mu        stdsync.Mutex
	failures  []error
	submitted []uint64
}

func (s *scriptedSubmitter) Submit(_ context.Context, a *queue.Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return "", err
	}
	s.submitted = append(s.submitted, a.ID)
	return "0xtx" + a.Type.String(), nil
}

func (s *scriptedSubmitter) fail(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *scriptedSubmitter) calls() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.submitted...)
}

type payload struct {
	Candidate uint64 `json:"candidate"`
}

func newQueue(t *testing.T, maxRetries int) (*queue.Queue, *scriptedSubmitter, *queue.Worker, *clock.Mock) {
	mock := clock.NewMock()
	q := queue.New(queue.NewMemoryStore(), queue.Config{MaxRetries: maxRetries, Clock: mock}, nil)
	sub := new(scriptedSubmitter)
	w, err := q.Register(network, sub)
	require.NoError(t, err)
	return q, sub, w, mock
}

func randomID(rng *rand.Rand) (id channel.ID) {
	rng.Read(id[:])
	return
}

// Scenario E: three transient failures with a retry ceiling of three fail
// the action, a manual resubmission succeeds.
func TestRetryCeilingAndResubmit(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	q, sub, w, _ := newQueue(t, 3)

	a, err := q.Enqueue(ctx, queue.TypeCheckpoint, randomID(rng), network, 5, payload{Candidate: 5})
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, a.Status)

	sub.fail(errTransient, errTransient, errTransient)
	for i := 1; i <= 3; i++ {
		n, err := w.ProcessBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		a, err = q.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, i, a.RetryCount)
		require.Contains(t, a.LastError, errTransient.Error())
	}
	require.Equal(t, queue.StatusFailed, a.Status)

	// Failed actions are not picked up again.
	n, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	a, err = q.Resubmit(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, a.Status)
	require.Zero(t, a.RetryCount)

	_, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	a, err = q.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, a.Status)
	require.Equal(t, "0xtxcheckpoint", a.TxRef)
	require.Equal(t, []uint64{a.ID}, sub.calls())
}

func TestEnqueueIsIdempotent(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	q, sub, w, _ := newQueue(t, 3)
	id := randomID(rng)

	a, err := q.Enqueue(ctx, queue.TypeClose, id, network, 7, payload{Candidate: 7})
	require.NoError(t, err)
	dup, err := q.Enqueue(ctx, queue.TypeClose, id, network, 7, payload{Candidate: 7})
	require.NoError(t, err)
	require.Equal(t, a.ID, dup.ID)

	_, err = w.ProcessBatch(ctx)
	require.NoError(t, err)

	// Completed duplicates are a no-op.
	dup, err = q.Enqueue(ctx, queue.TypeClose, id, network, 7, payload{Candidate: 7})
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, dup.Status)
	dup, err = q.Resubmit(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusCompleted, dup.Status)
	_, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Len(t, sub.calls(), 1)

	// A different version is a different action.
	other, err := q.Enqueue(ctx, queue.TypeClose, id, network, 8, payload{Candidate: 8})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, other.ID)

	actions, err := q.List(ctx, id)
	require.NoError(t, err)
	require.Len(t, actions, 2)
}

func TestTerminalFailsImmediately(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	q, sub, w, _ := newQueue(t, 5)

	a, err := q.Enqueue(ctx, queue.TypeResize, randomID(rng), network, 2, payload{Candidate: 2})
	require.NoError(t, err)
	sub.fail(queue.Terminal(errors.New("execution reverted")))

	_, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	a, err = q.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusFailed, a.Status)
	require.Zero(t, a.RetryCount)
	require.True(t, queue.IsTerminal(queue.Terminal(errTransient)))
	require.False(t, queue.IsTerminal(errTransient))
	require.Nil(t, queue.Terminal(nil))
}

func TestOldestFirstStopsAtRetryableFailure(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	q, sub, w, mock := newQueue(t, 3)

	var ids []uint64
	for v := uint64(1); v <= 3; v++ {
		a, err := q.Enqueue(ctx, queue.TypeCheckpoint, randomID(rng), network, v, payload{Candidate: v})
		require.NoError(t, err)
		ids = append(ids, a.ID)
		mock.Add(time.Second)
	}

	sub.fail(errTransient)
	n, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, sub.calls())

	n, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, ids, sub.calls())
}

func TestEnqueueValidation(t *testing.T) {
	rng := pkgtest.Prng(t)
	ctx := context.Background()
	q, _, _, _ := newQueue(t, 3)

	_, err := q.Enqueue(ctx, queue.Type("withdraw"), randomID(rng), network, 1, nil)
	require.ErrorIs(t, err, queue.ErrInvalidType)

	_, err = q.Register(network, new(scriptedSubmitter))
	require.ErrorIs(t, err, queue.ErrNetworkExists)

	_, err = q.Resubmit(ctx, 42)
	require.ErrorIs(t, err, queue.ErrUnknownAction)

	require.NoError(t, q.Close())
	_, err = q.Enqueue(ctx, queue.TypeClose, randomID(rng), network, 1, nil)
	require.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestRunProcessesNetworksInParallel(t *testing.T) {
	rng := pkgtest.Prng(t)
	q := queue.New(queue.NewMemoryStore(), queue.Config{PollInterval: 10 * time.Millisecond}, nil)
	subs := []*scriptedSubmitter{new(scriptedSubmitter), new(scriptedSubmitter)}
	for i, s := range subs {
		_, err := q.Register(uint64(i+1), s)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range subs {
		_, err := q.Enqueue(ctx, queue.TypeCheckpoint, randomID(rng), uint64(i+1), 1, payload{Candidate: 1})
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	require.Eventually(t, func() bool {
		return len(subs[0].calls()) == 1 && len(subs[1].calls()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, q.Close())
	require.NoError(t, <-done)
}

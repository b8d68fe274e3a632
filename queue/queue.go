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

package queue

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	perrors "polycry.pt/poly-go/errors"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/channel"
)

const (
	DefaultMaxRetries   = 5
	DefaultBatchSize    = 10
	DefaultPollInterval = 2 * time.Second
)

// Config configures a Queue. Zero values are replaced by defaults.
type Config struct {
	MaxRetries   int
	BatchSize    int
	PollInterval time.Duration
	Clock        clock.Clock
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Queue turns settlement decisions into durable actions and drives one
// Worker per network.
type Queue struct {
	log.Embedding
	pkgsync.Closer

	store   Store
	cfg     Config
	metrics *Metrics

	mu      stdsync.RWMutex
	workers map[uint64]*Worker
}

// New returns a Queue over store. If m is nil, metrics are discarded.
func New(store Store, cfg Config, m *Metrics) *Queue {
	if m == nil {
		m = NopMetrics()
	}
	return &Queue{
		Embedding: log.MakeEmbedding(log.Default()),
		store:     store,
		cfg:       cfg.withDefaults(),
		metrics:   m,
		workers:   make(map[uint64]*Worker),
	}
}

// Register installs the submitter of a network and returns its worker.
func (q *Queue) Register(network uint64, s Submitter) (*Worker, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.workers[network]; ok {
		return nil, errors.WithMessagef(ErrNetworkExists, "network %d", network)
	}
	w := newWorker(network, s, q.store, q.cfg, q.metrics)
	q.workers[network] = w
	return w, nil
}

// Worker returns the worker of a network.
func (q *Queue) Worker(network uint64) (*Worker, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	w, ok := q.workers[network]
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownNetwork, "network %d", network)
	}
	return w, nil
}

func (q *Queue) allWorkers() []*Worker {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ws := make([]*Worker, 0, len(q.workers))
	for _, w := range q.workers {
		ws = append(ws, w)
	}
	return ws
}

// Enqueue persists a pending action. If an action for the same channel,
// type and version exists, it is returned unchanged.
func (q *Queue) Enqueue(ctx context.Context, typ Type, id channel.ID, network, version uint64, payload interface{}) (*Action, error) {
	if q.IsClosed() {
		return nil, ErrQueueClosed
	}
	if !typ.Valid() {
		return nil, errors.WithMessagef(ErrInvalidType, "%q", typ)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding action payload")
	}
	now := q.cfg.Clock.Now()
	a, created, err := q.store.Insert(ctx, &Action{
		Type:      typ,
		ChannelID: id,
		NetworkID: network,
		Version:   version,
		Payload:   raw,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "storing action")
	}
	if created {
		q.metrics.Pending.With(NetworkLabel, networkLabel(network)).Add(1)
		q.Log().WithField("channel", id).Debugf("Enqueued %v", a)
	}
	return a, nil
}

// Get returns an action by id.
func (q *Queue) Get(ctx context.Context, id uint64) (*Action, error) {
	return q.store.Get(ctx, id)
}

// List returns the actions of a channel, oldest first.
func (q *Queue) List(ctx context.Context, id channel.ID) ([]*Action, error) {
	return q.store.List(ctx, id)
}

// Resubmit returns a failed action to pending with a fresh retry budget.
// Pending and completed actions are returned unchanged.
func (q *Queue) Resubmit(ctx context.Context, id uint64) (*Action, error) {
	a, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w, err := q.Worker(a.NetworkID); err == nil {
		if !w.mu.TryLockCtx(ctx) {
			return nil, errors.WithMessage(ctx.Err(), "acquiring network lock")
		}
		defer w.mu.Unlock()
		// Reload under the lock, the worker may have moved it.
		if a, err = q.store.Get(ctx, id); err != nil {
			return nil, err
		}
	}
	if a.Status != StatusFailed {
		return a, nil
	}
	a.Status = StatusPending
	a.RetryCount = 0
	a.UpdatedAt = q.cfg.Clock.Now()
	if err := q.store.Update(ctx, a); err != nil {
		return nil, errors.WithMessage(err, "storing action")
	}
	q.metrics.Pending.With(NetworkLabel, networkLabel(a.NetworkID)).Add(1)
	q.Log().Infof("Resubmitting %v", a)
	return a, nil
}

// ProcessAll runs one batch on every network in parallel.
func (q *Queue) ProcessAll(ctx context.Context) error {
	g := perrors.NewGatherer()
	for _, w := range q.allWorkers() {
		w := w
		g.Go(func() error {
			_, err := w.ProcessBatch(ctx)
			return errors.WithMessagef(err, "network %d", w.network)
		})
	}
	return g.Wait()
}

// Run drives all registered workers until ctx is done or the queue is
// closed.
func (q *Queue) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !q.OnCloseAlways(cancel) {
		return ErrQueueClosed
	}
	g := perrors.NewGatherer()
	for _, w := range q.allWorkers() {
		w := w
		g.Go(func() error { return w.Run(ctx, q.cfg.PollInterval) })
	}
	return g.Wait()
}

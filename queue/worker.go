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
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"
)

// Submitter sends actions to one settlement network. It returns a
// reference to the submitted transaction. Errors wrapped with Terminal are
// not retried.
type Submitter interface {
	Submit(ctx context.Context, a *Action) (txRef string, err error)
}

// Worker submits the pending actions of one network, oldest first and one
// at a time, since all submissions share a signing account.
type Worker struct {
	log.Embedding

	network    uint64
	submitter  Submitter
	store      Store
	clock      clock.Clock
	maxRetries int
	batchSize  int

	submitted, completed, failed, retried metrics.Counter
	pending                               metrics.Gauge

	mu pkgsync.Mutex
}

func newWorker(network uint64, s Submitter, store Store, cfg Config, m *Metrics) *Worker {
	label := networkLabel(network)
	return &Worker{
		Embedding:  log.MakeEmbedding(log.WithField("network", network)),
		network:    network,
		submitter:  s,
		store:      store,
		clock:      cfg.Clock,
		maxRetries: cfg.MaxRetries,
		batchSize:  cfg.BatchSize,
		submitted:  m.Submitted.With(NetworkLabel, label),
		completed:  m.Completed.With(NetworkLabel, label),
		failed:     m.Failed.With(NetworkLabel, label),
		retried:    m.Retried.With(NetworkLabel, label),
		pending:    m.Pending.With(NetworkLabel, label),
	}
}

// Network returns the id of the worker's network.
func (w *Worker) Network() uint64 { return w.network }

// ProcessBatch submits up to one batch of pending actions. It stops at the
// first retryable failure so that later actions are not submitted ahead of
// it. It returns the number of actions it attempted.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	if !w.mu.TryLockCtx(ctx) {
		return 0, errors.WithMessage(ctx.Err(), "acquiring network lock")
	}
	defer w.mu.Unlock()

	batch, err := w.store.Pending(ctx, w.network, w.batchSize)
	if err != nil {
		return 0, errors.WithMessage(err, "loading pending actions")
	}
	n := 0
	for _, a := range batch {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		retry, err := w.process(ctx, a)
		if err != nil {
			return n, err
		}
		n++
		if retry {
			break
		}
	}
	return n, nil
}

// process submits a and records the outcome. retry is true if a stays
// pending.
func (w *Worker) process(ctx context.Context, a *Action) (retry bool, err error) {
	w.submitted.Add(1)
	txRef, serr := w.submitter.Submit(ctx, a)
	if serr != nil && ctx.Err() != nil {
		// Shutdown, not a failure of the action.
		return true, ctx.Err()
	}
	a.UpdatedAt = w.clock.Now()
	switch {
	case serr == nil:
		a.Status = StatusCompleted
		a.TxRef = txRef
		a.LastError = ""
		w.completed.Add(1)
		w.pending.Add(-1)
		w.Log().Infof("Submitted %v: %s", a, txRef)
	case IsTerminal(serr):
		a.Status = StatusFailed
		a.LastError = serr.Error()
		w.failed.Add(1)
		w.pending.Add(-1)
		w.Log().WithError(serr).Errorf("Submitting %v failed permanently", a)
	default:
		a.RetryCount++
		a.LastError = serr.Error()
		if a.RetryCount >= w.maxRetries {
			a.Status = StatusFailed
			w.failed.Add(1)
			w.pending.Add(-1)
			w.Log().WithError(serr).Errorf("Giving up on %v after %d attempts", a, a.RetryCount)
		} else {
			retry = true
			w.retried.Add(1)
			w.Log().WithError(serr).Warnf("Submitting %v failed, attempt %d", a, a.RetryCount)
		}
	}
	if err := w.store.Update(ctx, a); err != nil {
		return retry, errors.WithMessagef(err, "recording outcome of %v", a)
	}
	return retry, nil
}

// Run processes batches every interval until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := w.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log().WithError(err).Error("Processing batch")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

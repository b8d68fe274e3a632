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

package client

import (
	"context"
	"math/big"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/perun-nitro-backend/event"
)

// DefaultMaxRange is the largest block range of one log query.
const DefaultMaxRange = 1000

// EventSink consumes decoded settlement events.
type EventSink interface {
	IndexEvents(ctx context.Context, evs ...*event.SettlementEvent) error
}

// Watcher polls a custody contract for settlement events.
type Watcher struct {
	log.Embedding

	chain    Chain
	network  uint64
	custody  common.Address
	sink     EventSink
	clock    clock.Clock
	next     uint64
	MaxRange uint64
}

// NewWatcher returns a Watcher that reports events of custody on network,
// starting at block from.
func NewWatcher(chain Chain, network uint64, custody common.Address, sink EventSink, from uint64) *Watcher {
	return &Watcher{
		Embedding: log.MakeEmbedding(log.WithFields(log.Fields{"chain": network, "custody": custody})),
		chain:     chain,
		network:   network,
		custody:   custody,
		sink:      sink,
		clock:     clock.New(),
		next:      from,
		MaxRange:  DefaultMaxRange,
	}
}

// WithClock replaces the wall clock used by Run.
func (w *Watcher) WithClock(c clock.Clock) *Watcher {
	w.clock = c
	return w
}

// Next returns the first block not yet polled.
func (w *Watcher) Next() uint64 { return w.next }

// Poll indexes the events of all blocks up to the current head and returns
// their number. Logs of unknown events are skipped.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	head, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return 0, errors.WithMessage(err, "fetching head")
	}
	n := 0
	for w.next <= head {
		to := head
		if w.MaxRange > 0 && to-w.next >= w.MaxRange {
			to = w.next + w.MaxRange - 1
		}
		evs, err := w.fetch(ctx, w.next, to)
		if err != nil {
			return n, err
		}
		if err := w.sink.IndexEvents(ctx, evs...); err != nil {
			return n, errors.WithMessage(err, "indexing events")
		}
		n += len(evs)
		w.next = to + 1
	}
	return n, nil
}

func (w *Watcher) fetch(ctx context.Context, from, to uint64) ([]*event.SettlementEvent, error) {
	logs, err := w.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.custody},
		Topics:    [][]common.Hash{event.Topics()},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "filtering logs %d-%d", from, to)
	}
	evs := make([]*event.SettlementEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, err := event.Decode(w.network, w.custody, l)
		if err != nil {
			w.Log().WithError(err).WithField("tx", l.TxHash).Warn("Skipping log")
			continue
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// Run polls every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := w.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log().WithError(err).Error("Polling events")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

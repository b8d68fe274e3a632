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
	"context"
	stdsync "sync"

	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/event"
)

// DefaultBufferSize is the number of events a subscription buffers before
// dropping.
const DefaultBufferSize = 1024

// Subscription delivers the lifecycle events of one channel.
type Subscription struct {
	id     channel.ID
	events chan event.LifecycleEvent
	closer *pkgsync.Closer
	log    log.Embedding
}

// Next blocks until the next event and returns nil once the subscription is
// closed.
func (s *Subscription) Next() event.LifecycleEvent {
	if s.closer.IsClosed() {
		return nil
	}
	select {
	case ev := <-s.events:
		return ev
	case <-s.closer.Closed():
		return nil
	}
}

// Events returns the raw event channel.
func (s *Subscription) Events() <-chan event.LifecycleEvent {
	return s.events
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	if err := s.closer.Close(); err != nil && !pkgsync.IsAlreadyClosedError(err) {
		return err
	}
	return nil
}

// Err always returns nil; subscriptions end only by Close.
func (s *Subscription) Err() error {
	return nil
}

func (s *Subscription) push(ev event.LifecycleEvent) {
	if s.closer.IsClosed() {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Log().WithField("channel", s.id).Warnf("Dropping %v event, subscriber too slow", ev.GetType())
	}
}

type publisher struct {
	mu   stdsync.Mutex
	subs map[channel.ID]map[*Subscription]struct{}
}

func newPublisher() *publisher {
	return &publisher{subs: make(map[channel.ID]map[*Subscription]struct{})}
}

func (p *publisher) subscribe(ctx context.Context, id channel.ID) *Subscription {
	sub := &Subscription{
		id:     id,
		events: make(chan event.LifecycleEvent, DefaultBufferSize),
		closer: new(pkgsync.Closer),
		log:    log.MakeEmbedding(log.Default()),
	}
	p.mu.Lock()
	if p.subs[id] == nil {
		p.subs[id] = make(map[*Subscription]struct{})
	}
	p.subs[id][sub] = struct{}{}
	p.mu.Unlock()

	sub.closer.OnCloseAlways(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[id], sub)
		if len(p.subs[id]) == 0 {
			delete(p.subs, id)
		}
	})
	go func() {
		select {
		case <-ctx.Done():
			sub.Close() //nolint: errcheck
		case <-sub.closer.Closed():
		}
	}()
	return sub
}

func (p *publisher) publish(ev event.LifecycleEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs[ev.GetID()] {
		sub.push(ev)
	}
}

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

package rpc

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	pkgsync "polycry.pt/poly-go/sync"
)

// DefaultReplayWindow is the number of recent request ids remembered.
const DefaultReplayWindow = 4096

// DefaultTolerance is how far a request timestamp may lag behind the
// session's last response timestamp.
const DefaultTolerance = 5 * time.Second

type replayKey struct {
	session   string
	requestID uint64
}

// ReplayWindow remembers the most recent request ids of all sessions.
type ReplayWindow struct {
	cache *lru.Cache
}

// NewReplayWindow returns a window of the given size.
func NewReplayWindow(size int) (*ReplayWindow, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating replay cache")
	}
	return &ReplayWindow{cache: c}, nil
}

// Observe records a request id of a session. It fails with
// ErrDuplicateRequest if the id was seen within the window.
func (w *ReplayWindow) Observe(session string, id uint64) error {
	if ok, _ := w.cache.ContainsOrAdd(replayKey{session, id}, struct{}{}); ok {
		return errors.WithMessagef(ErrDuplicateRequest, "request %d", id)
	}
	return nil
}

// History is the proof-of-history anchor of a session: the strictly
// increasing sequence of the server's response timestamps.
type History struct {
	mu        pkgsync.Mutex
	last      uint64
	tolerance uint64
}

// NewHistory returns an empty history accepting request timestamps up to
// tolerance older than the last response.
func NewHistory(tolerance time.Duration) *History {
	return &History{tolerance: uint64(tolerance.Milliseconds())}
}

// Check validates a request timestamp against the anchor.
func (h *History) Check(ts uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last > h.tolerance && ts < h.last-h.tolerance {
		return errors.WithMessagef(ErrStaleTimestamp, "request at %d, last response at %d", ts, h.last)
	}
	return nil
}

// Next returns the timestamp of the next response: now, or one past the
// anchor if the clock has not advanced.
func (h *History) Next(now time.Time) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := uint64(now.UnixMilli())
	if ts <= h.last {
		ts = h.last + 1
	}
	h.last = ts
	return ts
}

// Last returns the current anchor.
func (h *History) Last() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

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

package event

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	pchannel "perun.network/go-perun/channel"
)

// DefaultTimeoutPollInterval is how often Wait checks a mocked clock.
const DefaultTimeoutPollInterval = 1 * time.Second

// Timeout is a dispute deadline measured on an injectable clock.
type Timeout struct {
	Clock clock.Clock
	When  time.Time
}

var _ pchannel.Timeout = (*Timeout)(nil)

// NewTimeout returns a timeout expiring at when.
func NewTimeout(c clock.Clock, when time.Time) *Timeout {
	return &Timeout{Clock: c, When: when}
}

// MakeTimeout returns a timeout expiring challDurSec seconds from now.
func MakeTimeout(c clock.Clock, challDurSec uint64) *Timeout {
	return NewTimeout(c, c.Now().Add(MakeTime(challDurSec)))
}

// MakeTime converts seconds into a duration.
func MakeTime(challDurSec uint64) time.Duration {
	return time.Duration(challDurSec) * time.Second
}

// IsElapsed reports whether the deadline has strictly passed.
func (t *Timeout) IsElapsed(context.Context) bool {
	return t.Clock.Now().After(t.When)
}

// Wait blocks until the timeout elapsed or ctx is done.
func (t *Timeout) Wait(ctx context.Context) error {
	ticker := t.Clock.Ticker(DefaultTimeoutPollInterval)
	defer ticker.Stop()
	for !t.IsElapsed(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

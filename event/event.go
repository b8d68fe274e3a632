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
	"errors"
	"fmt"
	"time"

	"perun.network/perun-nitro-backend/channel"
)

// Version is a state version.
type Version = uint64

// EventType is the kind of lifecycle transition an event reports.
type EventType int

const (
	EventTypeOpen         EventType = iota // channel recorded in VOID
	EventTypeJoined                        // participant deposited and signed
	EventTypeActivated                     // all participants funded, channel ACTIVE
	EventTypeCheckpointed                  // newer state recorded
	EventTypeChallenged                    // channel entered DISPUTE
	EventTypeCountered                     // newer state during DISPUTE, expiry reset
	EventTypeResized                       // deposits changed by resize
	EventTypeClosed                        // channel FINAL, funds distributed
	EventTypeError                         // inconsistent event
)

var eventTypeNames = map[EventType]string{
	EventTypeOpen:         "open",
	EventTypeJoined:       "joined",
	EventTypeActivated:    "activated",
	EventTypeCheckpointed: "checkpointed",
	EventTypeChallenged:   "challenged",
	EventTypeCountered:    "countered",
	EventTypeResized:      "resized",
	EventTypeClosed:       "closed",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

var (
	ErrNoOpenEvent      = errors.New("open event not found")
	ErrNoActivatedEvent = errors.New("activated event not found")
	ErrNoChallengeEvent = errors.New("challenge event not found")
	ErrNoCloseEvent     = errors.New("close event not found")
)

type (
	// LifecycleEvent is emitted on every accepted channel transition.
	LifecycleEvent interface {
		GetID() channel.ID
		GetVersion() Version
		GetType() EventType
	}

	// StateEvent reports a transition that recorded a new state.
	StateEvent struct {
		Type    EventType
		ID      channel.ID
		State   *channel.State
		Emitted time.Time
	}

	// JoinEvent reports a deposit by a participant.
	JoinEvent struct {
		ID      channel.ID
		Index   int
		Funded  bool
		Emitted time.Time
	}

	// DisputeEvent reports a challenge or counter challenge.
	DisputeEvent struct {
		StateEvent
		Timeout *Timeout
	}

	// ClosedEvent reports the final distribution.
	ClosedEvent struct {
		StateEvent
		// Reclaimed is set when the channel closed through an expired
		// dispute.
		Reclaimed bool
	}
)

// GetID returns the channel id.
func (e *StateEvent) GetID() channel.ID { return e.ID }

// GetVersion returns the version of the recorded state.
func (e *StateEvent) GetVersion() Version {
	if e.State == nil {
		return 0
	}
	return e.State.Version
}

// GetType returns the event type.
func (e *StateEvent) GetType() EventType { return e.Type }

func (e *JoinEvent) GetID() channel.ID  { return e.ID }
func (e *JoinEvent) GetVersion() Version { return 0 }
func (e *JoinEvent) GetType() EventType  { return EventTypeJoined }

// AssertOpenEvent checks that evs contain an open event for id.
func AssertOpenEvent(evs []LifecycleEvent, id channel.ID) error {
	return assertType(evs, id, ErrNoOpenEvent, EventTypeOpen)
}

// AssertActivatedEvent checks that evs contain an activation for id.
func AssertActivatedEvent(evs []LifecycleEvent, id channel.ID) error {
	return assertType(evs, id, ErrNoActivatedEvent, EventTypeActivated)
}

// AssertDisputeEvent checks that evs contain a challenge or counter for id.
func AssertDisputeEvent(evs []LifecycleEvent, id channel.ID) error {
	return assertType(evs, id, ErrNoChallengeEvent, EventTypeChallenged, EventTypeCountered)
}

// AssertCloseEvent checks that evs contain a close event for id.
func AssertCloseEvent(evs []LifecycleEvent, id channel.ID) error {
	return assertType(evs, id, ErrNoCloseEvent, EventTypeClosed)
}

func assertType(evs []LifecycleEvent, id channel.ID, notFound error, types ...EventType) error {
	for _, ev := range evs {
		if ev.GetID() != id {
			continue
		}
		for _, t := range types {
			if ev.GetType() == t {
				return nil
			}
		}
	}
	return notFound
}

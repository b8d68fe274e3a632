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
	"math/big"
	stdsync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/event"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

// Config configures a Custody.
type Config struct {
	// Backend computes ids and verifies signatures for the custody's chain.
	Backend *channel.Backend
	// Adjudicators maps adjudicator addresses to policies.
	Adjudicators map[wtypes.Address]channel.Adjudicator
	// DefaultAdjudicator judges channels with unregistered adjudicators.
	// If nil, such channels cannot be opened.
	DefaultAdjudicator channel.Adjudicator
	Store              RecordStore
	Ledger             Ledger
	Clock              clock.Clock
	// MinChallenge is the shortest accepted dispute window. Zero disables
	// the check.
	MinChallenge time.Duration
}

// Custody is the channel lifecycle engine of one settlement network. All
// mutations of a channel are serialized, distinct channels proceed in
// parallel.
type Custody struct {
	log.Embedding

	backend      *channel.Backend
	adjudicators map[wtypes.Address]channel.Adjudicator
	defaultAdj   channel.Adjudicator
	store        RecordStore
	ledger       Ledger
	clock        clock.Clock
	minChallenge time.Duration
	pub          *publisher

	locksMu stdsync.Mutex
	locks   map[channel.ID]*channelLock
}

// channelLock is dropped from the lock table once nobody holds or awaits it.
type channelLock struct {
	pkgsync.Mutex
	refs int
}

// New returns a Custody. Missing store, ledger and clock default to
// in-memory implementations and the wall clock.
func New(cfg Config) *Custody {
	c := &Custody{
		Embedding:    log.MakeEmbedding(log.Default()),
		backend:      cfg.Backend,
		adjudicators: cfg.Adjudicators,
		defaultAdj:   cfg.DefaultAdjudicator,
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		clock:        cfg.Clock,
		minChallenge: cfg.MinChallenge,
		pub:          newPublisher(),
		locks:        make(map[channel.ID]*channelLock),
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.ledger == nil {
		c.ledger = NewMemoryLedger()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.adjudicators == nil {
		c.adjudicators = make(map[wtypes.Address]channel.Adjudicator)
	}
	return c
}

// Backend returns the custody's channel backend.
func (c *Custody) Backend() *channel.Backend { return c.backend }

// Ledger returns the custody's ledger.
func (c *Custody) Ledger() Ledger { return c.ledger }

// Clock returns the custody's clock.
func (c *Custody) Clock() clock.Clock { return c.clock }

// Subscribe returns a subscription to the lifecycle events of id. It ends
// when ctx is done or it is closed.
func (c *Custody) Subscribe(ctx context.Context, id channel.ID) (*Subscription, error) {
	if _, err := c.get(ctx, id); err != nil {
		return nil, err
	}
	return c.pub.subscribe(ctx, id), nil
}

// Status returns a copy of the channel record.
func (c *Custody) Status(ctx context.Context, id channel.ID) (*Record, error) {
	return c.get(ctx, id)
}

// get loads the record of id. Records of other chains sharing the store are
// unknown to this custody.
func (c *Custody) get(ctx context.Context, id channel.ID) (*Record, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, invalid(err)
	}
	if r.Chain != c.backend.ChainID {
		return nil, invalid(errors.WithMessagef(ErrUnknownChannel, "%v is on chain %d", id, r.Chain))
	}
	return r, nil
}

func (c *Custody) adjudicator(ch *channel.Channel) (channel.Adjudicator, error) {
	if adj, ok := c.adjudicators[ch.Adjudicator]; ok {
		return adj, nil
	}
	if c.defaultAdj != nil {
		return c.defaultAdj, nil
	}
	return nil, invalid(errors.WithMessagef(ErrNoAdjudicator, "adjudicator %s", ch.Adjudicator))
}

func (c *Custody) lock(ctx context.Context, id channel.ID) (func(), error) {
	c.locksMu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = new(channelLock)
		c.locks[id] = l
	}
	l.refs++
	c.locksMu.Unlock()

	if !l.TryLockCtx(ctx) {
		c.release(id, l)
		return nil, errors.WithMessage(ErrLockTimeout, ctx.Err().Error())
	}
	return func() {
		l.Unlock()
		c.release(id, l)
	}, nil
}

func (c *Custody) release(id channel.ID, l *channelLock) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(c.locks, id)
	}
}

// lockCount returns the number of channels with a live lock entry.
func (c *Custody) lockCount() int {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	return len(c.locks)
}

// mutate loads the record of id under its lock, applies fn and persists the
// result if fn succeeds. Ledger debits staged by fn are refunded if fn or the
// record write fails, credits are applied only after the record is stored.
// Events returned by fn are published after the record is stored.
func (c *Custody) mutate(ctx context.Context, id channel.ID, fn func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error)) (*Record, error) {
	unlock, err := c.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	tx := newLedgerTx(c.ledger)
	evs, err := fn(r, tx)
	if err != nil {
		c.rollback(ctx, id, tx)
		return nil, err
	}
	r.UpdatedAt = c.clock.Now()
	if err := c.store.Update(ctx, r); err != nil {
		c.rollback(ctx, id, tx)
		return nil, errors.WithMessage(err, "storing channel record")
	}
	for _, err := range tx.commit(context.WithoutCancel(ctx)) {
		c.Log().WithField("channel", id).WithError(err).Error("Crediting ledger failed")
	}
	for _, ev := range evs {
		c.pub.publish(ev)
	}
	return r.Clone(), nil
}

// Open records a new channel in VOID with its initial state.
func (c *Custody) Open(ctx context.Context, ch *channel.Channel, initial *channel.State) (*Record, error) {
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if c.minChallenge > 0 && ch.Challenge < c.minChallenge {
		return nil, invalid(errors.WithMessagef(ErrChallengeTooShort, "%v < %v", ch.Challenge, c.minChallenge))
	}
	if _, err := c.adjudicator(ch); err != nil {
		return nil, err
	}
	if err := initial.Validate(ch); err != nil {
		return nil, err
	}
	if initial.Version != 0 || initial.Intent != channel.IntentInitialize {
		return nil, channel.WithKind(channel.KindValidation, channel.ErrGenesisIntent)
	}
	for i, a := range initial.Allocations {
		if a.Asset.ChainID != c.backend.ChainID {
			return nil, channel.NewValidationError("allocation %d asset must be on chain %d", i, c.backend.ChainID)
		}
	}
	id, err := c.backend.CalcID(ch)
	if err != nil {
		return nil, invalid(err)
	}

	genesis := initial.WithoutSigs()
	genesis.Sigs = make([]wtypes.Sig, len(ch.Participants))
	r := &Record{
		ID:        id,
		Chain:     c.backend.ChainID,
		Channel:   ch.Clone(),
		Status:    StatusVoid,
		Initial:   genesis,
		Deposited: make([]*big.Int, len(ch.Participants)),
		UpdatedAt: c.clock.Now(),
	}
	for i := range r.Deposited {
		r.Deposited[i] = new(big.Int)
	}
	if err := c.store.Create(ctx, r); err != nil {
		if errors.Is(err, ErrChannelExists) {
			return nil, conflict(err)
		}
		return nil, errors.WithMessage(err, "storing channel record")
	}
	c.Log().WithField("channel", id).Infof("Opened channel with %d participants", len(ch.Participants))
	c.pub.publish(&event.StateEvent{Type: event.EventTypeOpen, ID: id, State: genesis.Clone(), Emitted: r.UpdatedAt})
	return r.Clone(), nil
}

// Join locks amount of participant's available balance in the channel and
// records the participant's signature on the initial state. Once every
// participant has funded and signed, the initial state is adjudicated and
// the channel becomes ACTIVE.
func (c *Custody) Join(ctx context.Context, id channel.ID, participant wtypes.Address, amount *big.Int, sig wtypes.Sig) (*Record, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, channel.WithKind(channel.KindValidation, channel.ErrNegativeAmount)
	}
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status != StatusVoid && r.Status != StatusInitial {
			return nil, statusConflict("join", r.Status)
		}
		idx := r.Channel.Index(participant)
		if idx < 0 {
			return nil, invalid(errors.WithMessagef(ErrNotParticipant, "%s", participant))
		}
		if amount.Cmp(r.Remaining(idx)) > 0 {
			return nil, invalid(errors.WithMessagef(ErrExcessDeposit, "participant %d deposits %v, remaining %v", idx, amount, r.Remaining(idx)))
		}
		if !r.Joined(idx) {
			ok, err := c.backend.Verify(ctx, participant, id, r.Initial, sig)
			if err != nil {
				return nil, errors.WithMessage(err, "verifying join signature")
			}
			if !ok {
				return nil, channel.NewSignatureError("join signature of participant %d is invalid", idx)
			}
		}
		asset := r.Initial.Allocations[idx].Asset
		if err := tx.withdraw(ctx, participant, asset, amount); err != nil {
			return nil, conflict(err)
		}
		if !r.Joined(idx) {
			r.Initial.Sigs[idx] = sig.Clone()
		}
		r.Deposited[idx].Add(r.Deposited[idx], amount)
		if r.Status == StatusVoid {
			r.Status = StatusInitial
		}
		now := c.clock.Now()
		evs := []event.LifecycleEvent{&event.JoinEvent{ID: id, Index: idx, Funded: r.Remaining(idx).Sign() == 0, Emitted: now}}

		if !r.Funded() {
			return evs, nil
		}
		adj, err := c.adjudicator(&r.Channel)
		if err != nil {
			return nil, err
		}
		verdict, err := adj.Adjudicate(ctx, &r.Channel, r.Initial, nil)
		if err != nil || verdict == channel.Reject {
			return nil, errors.WithMessage(rejected(err), "adjudicating initial state")
		}
		r.Status = StatusActive
		r.LastValid = r.Initial.Clone()
		c.Log().WithField("channel", id).Info("Channel funded and active")
		return append(evs, &event.StateEvent{Type: event.EventTypeActivated, ID: id, State: r.LastValid.Clone(), Emitted: now}), nil
	})
}

func (c *Custody) rollback(ctx context.Context, id channel.ID, tx *ledgerTx) {
	for _, err := range tx.rollback(context.WithoutCancel(ctx)) {
		c.Log().WithField("channel", id).WithError(err).Error("Refunding ledger debit failed")
	}
}

// Checkpoint records a newer adjudicated state of an ACTIVE channel. A
// concluding state finalizes the channel.
func (c *Custody) Checkpoint(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (*Record, error) {
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status != StatusActive {
			return nil, statusConflict("checkpoint", r.Status)
		}
		if candidate.Version <= r.LastValid.Version {
			return nil, conflict(errors.WithMessagef(ErrStaleState, "got %d, recorded %d", candidate.Version, r.LastValid.Version))
		}
		verdict, err := c.adjudicate(ctx, r, candidate, proofs)
		if err != nil {
			return nil, err
		}
		if verdict == channel.Conclude {
			return c.finalize(tx, r, candidate, false)
		}
		r.LastValid = candidate.Clone()
		return []event.LifecycleEvent{c.stateEvent(event.EventTypeCheckpointed, r)}, nil
	})
}

// Challenge starts a dispute on an ACTIVE channel with candidate. The
// challenger proves it is a participant by signing the challenge hash of the
// candidate.
func (c *Custody) Challenge(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State, challengerSig wtypes.Sig) (*Record, error) {
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status != StatusActive {
			return nil, statusConflict("challenge", r.Status)
		}
		if err := c.verifyChallenger(r, candidate, challengerSig); err != nil {
			return nil, err
		}
		if candidate.Version < r.LastValid.Version {
			return nil, conflict(errors.WithMessagef(ErrStaleState, "challenge with %d, recorded %d", candidate.Version, r.LastValid.Version))
		}
		verdict, err := c.adjudicate(ctx, r, candidate, proofs)
		if err != nil {
			return nil, err
		}
		if verdict == channel.Conclude {
			return c.finalize(tx, r, candidate, false)
		}
		r.LastValid = candidate.Clone()
		r.Status = StatusDispute
		r.ChallengeExpiry = c.clock.Now().Add(r.Channel.Challenge)
		c.Log().WithField("channel", id).Infof("Challenged with version %d until %v", candidate.Version, r.ChallengeExpiry)
		return []event.LifecycleEvent{c.disputeEvent(event.EventTypeChallenged, r)}, nil
	})
}

// Counter answers a dispute with a strictly newer adjudicated state before
// the challenge expires. The expiry is reset.
func (c *Custody) Counter(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (*Record, error) {
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status != StatusDispute {
			return nil, statusConflict("counter", r.Status)
		}
		if r.Expired(c.clock.Now()) {
			return nil, conflict(ErrChallengeExpired)
		}
		if candidate.Version <= r.LastValid.Version {
			return nil, conflict(errors.WithMessagef(ErrStaleState, "counter with %d, recorded %d", candidate.Version, r.LastValid.Version))
		}
		verdict, err := c.adjudicate(ctx, r, candidate, proofs)
		if err != nil {
			return nil, err
		}
		if verdict == channel.Conclude {
			return c.finalize(tx, r, candidate, false)
		}
		r.LastValid = candidate.Clone()
		r.ChallengeExpiry = c.clock.Now().Add(r.Channel.Challenge)
		return []event.LifecycleEvent{c.disputeEvent(event.EventTypeCountered, r)}, nil
	})
}

// Reclaim finalizes a disputed channel whose challenge expired, distributing
// the last valid state.
func (c *Custody) Reclaim(ctx context.Context, id channel.ID) (*Record, error) {
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status == StatusFinal {
			return nil, conflict(ErrAlreadyFinal)
		}
		if r.Status != StatusDispute {
			return nil, statusConflict("reclaim", r.Status)
		}
		if !r.Expired(c.clock.Now()) {
			return nil, conflict(errors.WithMessagef(ErrChallengeNotExpired, "expires %v", r.ChallengeExpiry))
		}
		return c.finalize(tx, r, r.LastValid, true)
	})
}

// Close finalizes an ACTIVE or DISPUTE channel with a newer state the
// adjudicator concludes.
func (c *Custody) Close(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (*Record, error) {
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status == StatusFinal {
			return nil, conflict(ErrAlreadyFinal)
		}
		if r.Status != StatusActive && r.Status != StatusDispute {
			return nil, statusConflict("close", r.Status)
		}
		if candidate.Version <= r.LastValid.Version {
			return nil, conflict(errors.WithMessagef(ErrStaleState, "close with %d, recorded %d", candidate.Version, r.LastValid.Version))
		}
		verdict, err := c.adjudicate(ctx, r, candidate, proofs)
		if err != nil {
			return nil, err
		}
		if verdict != channel.Conclude {
			return nil, invalid(ErrNotConclusive)
		}
		return c.finalize(tx, r, candidate, false)
	})
}

// Resize changes the funds locked in an ACTIVE channel. The only proof must
// be the last valid state. Positive deltas are taken from the destination's
// available balance, negative deltas are credited to it.
func (c *Custody) Resize(ctx context.Context, id channel.ID, candidate *channel.State, proofs []*channel.State) (*Record, error) {
	return c.mutate(ctx, id, func(r *Record, tx *ledgerTx) ([]event.LifecycleEvent, error) {
		if r.Status != StatusActive {
			return nil, statusConflict("resize", r.Status)
		}
		if err := c.checkResizeProof(r, proofs); err != nil {
			return nil, err
		}
		if err := candidate.Validate(&r.Channel); err != nil {
			return nil, err
		}
		deltas, err := channel.ValidateResize(r.LastValid, candidate)
		if err != nil {
			return nil, err
		}
		if err := c.backend.ValidateUnanimousSignatures(ctx, &r.Channel, r.ID, candidate); err != nil {
			return nil, err
		}
		if err := c.applyDeltas(ctx, tx, r, deltas); err != nil {
			return nil, err
		}
		r.LastValid = candidate.Clone()
		c.Log().WithField("channel", id).Infof("Resized to version %d", candidate.Version)
		return []event.LifecycleEvent{c.stateEvent(event.EventTypeResized, r)}, nil
	})
}

func (c *Custody) checkResizeProof(r *Record, proofs []*channel.State) error {
	if len(proofs) != 1 {
		return invalid(errors.WithMessagef(ErrProofMismatch, "got %d proofs", len(proofs)))
	}
	want, err := channel.StateHash(r.ID, r.LastValid)
	if err != nil {
		return invalid(err)
	}
	got, err := channel.StateHash(r.ID, proofs[0])
	if err != nil {
		return invalid(err)
	}
	if got != want {
		return invalid(ErrProofMismatch)
	}
	return nil
}

// applyDeltas debits positive and credits negative deltas.
func (c *Custody) applyDeltas(ctx context.Context, tx *ledgerTx, r *Record, deltas []*big.Int) error {
	for i, d := range deltas {
		a := r.LastValid.Allocations[i]
		switch d.Sign() {
		case 1:
			if err := tx.withdraw(ctx, a.Destination, a.Asset, d); err != nil {
				return conflict(err)
			}
		case -1:
			tx.deposit(a.Destination, a.Asset, new(big.Int).Neg(d))
		}
	}
	for i, d := range deltas {
		r.Deposited[i] = new(big.Int).Add(r.Deposited[i], d)
	}
	return nil
}

// adjudicate checks conservation of locked funds and asks the channel's
// adjudicator for a verdict.
func (c *Custody) adjudicate(ctx context.Context, r *Record, candidate *channel.State, proofs []*channel.State) (channel.Verdict, error) {
	if err := candidate.Validate(&r.Channel); err != nil {
		return channel.Reject, err
	}
	if err := c.checkLocked(r, candidate); err != nil {
		return channel.Reject, err
	}
	adj, err := c.adjudicator(&r.Channel)
	if err != nil {
		return channel.Reject, err
	}
	verdict, err := adj.Adjudicate(ctx, &r.Channel, candidate, proofs)
	if err != nil {
		return channel.Reject, err
	}
	if verdict == channel.Reject {
		return channel.Reject, rejected(nil)
	}
	return verdict, nil
}

func (c *Custody) checkLocked(r *Record, candidate *channel.State) error {
	locked := r.Current().Sums()
	got := candidate.Sums()
	if len(locked) != len(got) {
		return invalid(ErrLockedFunds)
	}
	for k, v := range locked {
		if g, ok := got[k]; !ok || g.Cmp(v) != 0 {
			return invalid(ErrLockedFunds)
		}
	}
	return nil
}

func (c *Custody) verifyChallenger(r *Record, candidate *channel.State, sig wtypes.Sig) error {
	for _, p := range r.Channel.Participants {
		ok, err := c.backend.VerifyChallenge(p, r.ID, candidate, sig)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return channel.WithKind(channel.KindSignature, errors.WithMessage(ErrNotParticipant, "challenger signature"))
}

// finalize distributes st to the destinations and marks the record FINAL.
func (c *Custody) finalize(tx *ledgerTx, r *Record, st *channel.State, reclaimed bool) ([]event.LifecycleEvent, error) {
	for _, a := range st.Allocations {
		tx.deposit(a.Destination, a.Asset, a.Amount)
	}
	for i := range r.Deposited {
		r.Deposited[i] = new(big.Int)
	}
	r.LastValid = st.Clone()
	r.Status = StatusFinal
	r.ChallengeExpiry = time.Time{}
	c.Log().WithField("channel", r.ID).Infof("Channel final at version %d", st.Version)
	return []event.LifecycleEvent{&event.ClosedEvent{
		StateEvent: event.StateEvent{Type: event.EventTypeClosed, ID: r.ID, State: st.Clone(), Emitted: c.clock.Now()},
		Reclaimed:  reclaimed,
	}}, nil
}

func (c *Custody) stateEvent(t event.EventType, r *Record) *event.StateEvent {
	return &event.StateEvent{Type: t, ID: r.ID, State: r.LastValid.Clone(), Emitted: c.clock.Now()}
}

func (c *Custody) disputeEvent(t event.EventType, r *Record) *event.DisputeEvent {
	return &event.DisputeEvent{
		StateEvent: *c.stateEvent(t, r),
		Timeout:    event.NewTimeout(c.clock, r.ChallengeExpiry),
	}
}

func rejected(err error) error {
	if err != nil {
		return err
	}
	return channel.NewValidationError("adjudicator rejected the candidate state")
}

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
	"time"

	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	perrors "polycry.pt/poly-go/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/wallet"
)

const MaxIterationsUntilAbort = 20
const DefaultPollingInterval = time.Duration(6) * time.Second

// ErrFundingTimeout is returned if a channel did not become ACTIVE while
// polling.
var ErrFundingTimeout = errors.New("channel not funded in time")

// FundingReq asks a Funder to fund participant Idx of channel ID.
type FundingReq struct {
	ID  channel.ID
	Idx int
}

// Funder deposits a participant's share of a channel and waits until every
// other participant has done so too.
type Funder struct {
	log.Embedding

	custody         *Custody
	signer          wallet.Signer
	maxIters        int
	pollingInterval time.Duration
}

func NewFunder(c *Custody, signer wallet.Signer) *Funder {
	return &Funder{
		Embedding:       log.MakeEmbedding(log.WithField("funder", signer.Address())),
		custody:         c,
		signer:          signer,
		maxIters:        MaxIterationsUntilAbort,
		pollingInterval: DefaultPollingInterval,
	}
}

// WithPolling sets the number of status polls and their interval.
func (f *Funder) WithPolling(maxIters int, interval time.Duration) *Funder {
	f.maxIters = maxIters
	f.pollingInterval = interval
	return f
}

// Fund joins the channel with the participant's remaining deposit and
// blocks until it is ACTIVE.
func (f *Funder) Fund(ctx context.Context, req FundingReq) error {
	r, err := f.custody.Status(ctx, req.ID)
	if err != nil {
		return err
	}
	if req.Idx < 0 || req.Idx >= len(r.Channel.Participants) {
		return invalid(errors.Errorf("index %d out of range", req.Idx))
	}
	if !r.Channel.Participants[req.Idx].Equal(f.signer.Address()) {
		return invalid(errors.WithMessagef(ErrNotParticipant, "signer %s is not participant %d", f.signer.Address(), req.Idx))
	}
	if r.Status == StatusActive {
		return nil
	}
	if !r.Joined(req.Idx) || r.Remaining(req.Idx).Sign() > 0 {
		if err := f.join(ctx, r, req.Idx); err != nil {
			return err
		}
	}
	return f.awaitActive(ctx, req)
}

func (f *Funder) join(ctx context.Context, r *Record, idx int) error {
	sig, err := f.custody.Backend().Sign(f.signer, r.ID, r.Initial.WithoutSigs())
	if err != nil {
		return errors.WithMessage(err, "signing initial state")
	}
	f.Log().Infof("Depositing %v into channel %v", r.Remaining(idx), r.ID)
	_, err = f.custody.Join(ctx, r.ID, f.signer.Address(), r.Remaining(idx), sig)
	return err
}

func (f *Funder) awaitActive(ctx context.Context, req FundingReq) error {
	for i := 0; i < f.maxIters; i++ {
		r, err := f.custody.Status(ctx, req.ID)
		if err != nil {
			f.Log().WithError(err).Warn("Polling channel status failed")
		} else {
			switch r.Status {
			case StatusActive:
				return nil
			case StatusFinal:
				return conflict(errors.WithMessagef(ErrAlreadyFinal, "channel %v", req.ID))
			}
		}
		select {
		case <-ctx.Done():
			return errors.WithMessage(ctx.Err(), "awaiting channel funding")
		case <-time.After(f.pollingInterval):
		}
	}
	return errors.WithMessagef(ErrFundingTimeout, "channel %v after %d polls", req.ID, f.maxIters)
}

// FundAll runs all funding requests concurrently and returns the first
// error.
func FundAll(ctx context.Context, funders []*Funder, reqs []FundingReq) error {
	if len(funders) != len(reqs) {
		return errors.Errorf("%d funders for %d requests", len(funders), len(reqs))
	}
	g := perrors.NewGatherer()
	for i := range funders {
		i := i
		g.Go(func() error {
			return funders[i].Fund(ctx, reqs[i])
		})
	}
	return g.Wait()
}

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

package store

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/wire"
)

// RecordStore is a custody.RecordStore on the channels table.
type RecordStore struct {
	db *gorm.DB
}

var _ custody.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) Create(ctx context.Context, r *custody.Record) error {
	row, err := makeChannelRow(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&ChannelRow{}).Where("channel_id = ?", row.ChannelID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "looking up channel")
		}
		if n > 0 {
			return custody.ErrChannelExists
		}
		err := tx.Omit(clause.Associations).Create(row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return custody.ErrChannelExists
		}
		return errors.Wrap(err, "inserting channel")
	})
}

func (s *RecordStore) Get(ctx context.Context, id channel.ID) (*custody.Record, error) {
	var row ChannelRow
	err := s.db.WithContext(ctx).Take(&row, "channel_id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, custody.ErrUnknownChannel
	} else if err != nil {
		return nil, errors.Wrap(err, "loading channel")
	}
	return row.record()
}

func (s *RecordStore) Update(ctx context.Context, r *custody.Record) error {
	row, err := makeChannelRow(r)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(row).Select("*").Omit("ChannelID", "CreatedAt").Updates(row)
	if res.Error != nil {
		return errors.Wrap(res.Error, "updating channel")
	}
	if res.RowsAffected == 0 {
		return custody.ErrUnknownChannel
	}
	return nil
}

func (s *RecordStore) List(ctx context.Context, status custody.Status) ([]*custody.Record, error) {
	var rows []ChannelRow
	if err := s.db.WithContext(ctx).Where("status = ?", status.String()).Order("updated_at, channel_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "listing channels")
	}
	res := make([]*custody.Record, len(rows))
	for i := range rows {
		r, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		res[i] = r
	}
	return res, nil
}

func makeChannelRow(r *custody.Record) (*ChannelRow, error) {
	row := &ChannelRow{
		ChannelID: r.ID.String(),
		ChainID:   r.Chain,
		Status:    r.Status.String(),
		UpdatedAt: r.UpdatedAt,
	}
	var err error
	if row.Definition, err = json.Marshal(wire.MakeChannel(&r.Channel)); err != nil {
		return nil, errors.Wrap(err, "encoding channel")
	}
	if row.Initial, err = json.Marshal(wire.MakeState(r.Initial)); err != nil {
		return nil, errors.Wrap(err, "encoding initial state")
	}
	if r.LastValid != nil {
		if row.LastValid, err = json.Marshal(wire.MakeState(r.LastValid)); err != nil {
			return nil, errors.Wrap(err, "encoding last valid state")
		}
	}
	deposited := make([]*math.HexOrDecimal256, len(r.Deposited))
	for i, d := range r.Deposited {
		deposited[i] = wire.MakeAmount(d)
	}
	if row.Deposited, err = json.Marshal(deposited); err != nil {
		return nil, errors.Wrap(err, "encoding deposits")
	}
	if !r.ChallengeExpiry.IsZero() {
		expiry := r.ChallengeExpiry
		row.ChallengeExpiry = &expiry
	}
	return row, nil
}

func (row *ChannelRow) record() (*custody.Record, error) {
	r := &custody.Record{Chain: row.ChainID, UpdatedAt: row.UpdatedAt}
	if err := r.ID.UnmarshalText([]byte(row.ChannelID)); err != nil {
		return nil, errors.WithMessage(err, "decoding channel id")
	}
	status, err := custody.ParseStatus(row.Status)
	if err != nil {
		return nil, err
	}
	r.Status = status

	var def wire.Channel
	if err := json.Unmarshal(row.Definition, &def); err != nil {
		return nil, errors.Wrap(err, "decoding channel")
	}
	ch, err := wire.ToChannel(def)
	if err != nil {
		return nil, err
	}
	r.Channel = *ch
	if r.Initial, err = decodeState(row.Initial); err != nil {
		return nil, errors.WithMessage(err, "initial state")
	}
	if len(row.LastValid) > 0 {
		if r.LastValid, err = decodeState(row.LastValid); err != nil {
			return nil, errors.WithMessage(err, "last valid state")
		}
	}

	var deposited []*math.HexOrDecimal256
	if err := json.Unmarshal(row.Deposited, &deposited); err != nil {
		return nil, errors.Wrap(err, "decoding deposits")
	}
	r.Deposited = make([]*big.Int, len(deposited))
	for i, d := range deposited {
		if r.Deposited[i], err = wire.ToAmount(d); err != nil {
			return nil, err
		}
	}
	if row.ChallengeExpiry != nil {
		r.ChallengeExpiry = row.ChallengeExpiry.In(time.UTC)
	}
	return r, nil
}

func decodeState(data []byte) (*channel.State, error) {
	var w wire.State
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "decoding state")
	}
	return wire.ToState(w)
}

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

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/queue"
)

// ActionStore is a queue.Store on the blockchain_actions table.
type ActionStore struct {
	db *gorm.DB
}

var _ queue.Store = (*ActionStore)(nil)

func (s *ActionStore) Insert(ctx context.Context, a *queue.Action) (*queue.Action, bool, error) {
	row := makeActionRow(a)
	row.ID = 0
	var (
		stored  *queue.Action
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.byKey(tx, row)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing.action()
			return nil
		}
		if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
			return errors.Wrap(err, "inserting action")
		}
		stored, created = row.action(), true
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a race against a concurrent insert of the same key.
		existing, err := s.byKey(s.db.WithContext(ctx), row)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errors.New("duplicate action vanished")
		}
		return existing.action(), false, nil
	}
	return stored, created, err
}

func (s *ActionStore) byKey(tx *gorm.DB, key *ActionRow) (*ActionRow, error) {
	var row ActionRow
	err := tx.Where("channel_id = ? AND type = ? AND version = ?", key.ChannelID, key.Type, key.Version).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "looking up action")
	}
	return &row, nil
}

func (s *ActionStore) Get(ctx context.Context, id uint64) (*queue.Action, error) {
	var row ActionRow
	err := s.db.WithContext(ctx).Take(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, queue.ErrUnknownAction
	} else if err != nil {
		return nil, errors.Wrap(err, "loading action")
	}
	return row.action(), nil
}

// Update overwrites the mutable columns of an action: status, retries,
// last error, transaction reference and update time.
func (s *ActionStore) Update(ctx context.Context, a *queue.Action) error {
	row := makeActionRow(a)
	res := s.db.WithContext(ctx).Model(row).
		Select("Status", "RetryCount", "LastError", "TxRef", "UpdatedAt").
		Updates(row)
	if res.Error != nil {
		return errors.Wrap(res.Error, "updating action")
	}
	if res.RowsAffected == 0 {
		return queue.ErrUnknownAction
	}
	return nil
}

func (s *ActionStore) Pending(ctx context.Context, networkID uint64, limit int) ([]*queue.Action, error) {
	q := s.db.WithContext(ctx).
		Where("network_id = ? AND status = ?", networkID, string(queue.StatusPending)).
		Order("created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.find(q)
}

func (s *ActionStore) List(ctx context.Context, id channel.ID) ([]*queue.Action, error) {
	return s.find(s.db.WithContext(ctx).Where("channel_id = ?", id.String()).Order("created_at, id"))
}

func (s *ActionStore) find(q *gorm.DB) ([]*queue.Action, error) {
	var rows []ActionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "listing actions")
	}
	res := make([]*queue.Action, len(rows))
	for i := range rows {
		res[i] = rows[i].action()
	}
	return res, nil
}

func makeActionRow(a *queue.Action) *ActionRow {
	return &ActionRow{
		ID:         a.ID,
		ChannelID:  a.ChannelID.String(),
		Type:       string(a.Type),
		Version:    a.Version,
		NetworkID:  a.NetworkID,
		Status:     string(a.Status),
		Payload:    append([]byte(nil), a.Payload...),
		RetryCount: a.RetryCount,
		LastError:  a.LastError,
		TxRef:      a.TxRef,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func (row *ActionRow) action() *queue.Action {
	a := &queue.Action{
		ID:         row.ID,
		Type:       queue.Type(row.Type),
		NetworkID:  row.NetworkID,
		Version:    row.Version,
		Payload:    json.RawMessage(append([]byte(nil), row.Payload...)),
		Status:     queue.Status(row.Status),
		RetryCount: row.RetryCount,
		LastError:  row.LastError,
		TxRef:      row.TxRef,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	// Channel ids are always written from a channel.ID.
	_ = a.ChannelID.UnmarshalText([]byte(row.ChannelID))
	return a
}

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

// Package psql implements a settlement event sink backed by a PostgreSQL
// database. Events are unique on (tx_hash, log_index, network_id), so
// indexing the same log twice is a no-op.
package psql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/adlio/schema"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"

	"perun.network/perun-nitro-backend/event"
)

const (
	TableSettlementEvents = "settlement_events"
	DriverName            = "postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

// EventSink stores settlement events.
type EventSink struct {
	store *sql.DB
	now   func() time.Time
}

// NewEventSink connects to the database at connStr. The schema is not
// touched, see Migrate.
func NewEventSink(connStr string) (*EventSink, error) {
	db, err := sql.Open(DriverName, connStr)
	if err != nil {
		return nil, err
	}
	return &EventSink{store: db, now: time.Now}, nil
}

// Migrations returns the schema migrations of the sink.
func Migrations() ([]*schema.Migration, error) {
	return schema.FSMigrations(migrations, "migrations/*.sql")
}

// Migrate applies the schema migrations to the sink's database.
func (es *EventSink) Migrate() error {
	ms, err := Migrations()
	if err != nil {
		return errors.Wrap(err, "reading migrations")
	}
	return errors.Wrap(schema.NewMigrator().Apply(es.store, ms), "applying migrations")
}

// DB returns the underlying connection.
func (es *EventSink) DB() *sql.DB { return es.store }

// IndexEvents inserts evs. Events already stored are skipped.
func (es *EventSink) IndexEvents(ctx context.Context, evs ...*event.SettlementEvent) error {
	if len(evs) == 0 {
		return nil
	}
	stmt := sq.
		Insert(TableSettlementEvents).
		Columns("tx_hash", "log_index", "network_id", "channel_id", "event_type",
			"name", "contract", "block_number", "data", "created_at").
		PlaceholderFormat(sq.Dollar).
		Suffix("ON CONFLICT (tx_hash, log_index, network_id)").
		Suffix("DO NOTHING")

	ts := es.now()
	for _, ev := range evs {
		data, err := json.Marshal(ev.Fields)
		if err != nil {
			return errors.Wrapf(err, "encoding fields of %s event", ev.Name)
		}
		stmt = stmt.Values(ev.TxHash.Hex(), ev.LogIndex, ev.NetworkID, ev.ChannelID.String(),
			ev.Type.String(), ev.Name, ev.Contract.Hex(), ev.BlockNumber, string(data), ts)
	}
	_, err := stmt.RunWith(es.store).ExecContext(ctx)
	return errors.Wrap(err, "inserting settlement events")
}

// Count returns the number of stored events of a channel.
func (es *EventSink) Count(ctx context.Context, channelID string) (int, error) {
	var n int
	err := sq.Select("COUNT(*)").
		From(TableSettlementEvents).
		Where(sq.Eq{"channel_id": channelID}).
		PlaceholderFormat(sq.Dollar).
		RunWith(es.store).
		QueryRowContext(ctx).
		Scan(&n)
	return n, err
}

// Stop closes the database.
func (es *EventSink) Stop() error { return es.store.Close() }

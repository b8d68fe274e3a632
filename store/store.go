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
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"perun.network/go-perun/log"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Store holds the GORM connection shared by the record and action stores.
type Store struct {
	log.Embedding

	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.WithMessagef(ErrUnknownDriver, "%q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database", driver)
	}
	if driver == DriverSQLite {
		// Shared in-memory databases report locked tables otherwise.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New migrates the schema on db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ChannelRow{}, &ActionRow{}, &BalanceRow{}); err != nil {
		return nil, errors.Wrap(err, "migrating schema")
	}
	return &Store{
		Embedding: log.MakeEmbedding(log.WithField("store", db.Dialector.Name())),
		db:        db,
	}, nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Records returns the channel record store.
func (s *Store) Records() *RecordStore { return &RecordStore{db: s.db} }

// Actions returns the blockchain action store.
func (s *Store) Actions() *ActionStore { return &ActionStore{db: s.db} }

// Ledger returns the balance ledger.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{db: s.db} }

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

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

// Package store persists channel records and blockchain actions with GORM,
// on postgres in production and on sqlite in tests and single node setups.
//
// Tables:
//
//	channels            one row per channel, keyed by channel id
//	blockchain_actions  settlement actions, unique on (channel_id, type,
//	                    version), foreign key to channels
//	ledger_balances     available balance per account and asset
package store

import (
	"time"
)

// ChannelRow is a custody record. States and the channel definition are
// stored in their JSON wire forms.
type ChannelRow struct {
	ChannelID       string `gorm:"primaryKey;size:66"`
	ChainID         uint64 `gorm:"index;not null"`
	Status          string `gorm:"index;not null"`
	Definition      []byte `gorm:"not null"`
	Initial         []byte `gorm:"not null"`
	LastValid       []byte
	Deposited       []byte `gorm:"not null"`
	ChallengeExpiry *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
}

// TableName implements gorm's tabler.
func (ChannelRow) TableName() string {
	return "channels"
}

// ActionRow is a blockchain action.
type ActionRow struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement"`
	ChannelID  string     `gorm:"size:66;not null;uniqueIndex:idx_action_key"`
	Channel    ChannelRow `gorm:"foreignKey:ChannelID;references:ChannelID"`
	Type       string     `gorm:"not null;uniqueIndex:idx_action_key"`
	Version    uint64     `gorm:"not null;uniqueIndex:idx_action_key"`
	NetworkID  uint64     `gorm:"not null;index:idx_action_pending"`
	Status     string     `gorm:"not null;index:idx_action_pending"`
	Payload    []byte     `gorm:"not null"`
	RetryCount int        `gorm:"not null;default:0"`
	LastError  string     `gorm:"type:text"`
	TxRef      string
	CreatedAt  time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

// TableName implements gorm's tabler.
func (ActionRow) TableName() string {
	return "blockchain_actions"
}

// BalanceRow is the available balance of an account in one asset. Amounts
// are decimal strings to hold uint256 values on every driver.
type BalanceRow struct {
	Account   string `gorm:"primaryKey;size:42"`
	ChainID   uint64 `gorm:"primaryKey"`
	Token     string `gorm:"primaryKey;size:42"`
	Amount    string `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (BalanceRow) TableName() string {
	return "ledger_balances"
}

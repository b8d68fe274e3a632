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
	"sort"
	stdsync "sync"

	"perun.network/perun-nitro-backend/channel"
)

// RecordStore persists channel records.
type RecordStore interface {
	// Create stores a new record. It fails with ErrChannelExists if the id
	// is taken.
	Create(ctx context.Context, r *Record) error
	// Get returns the record or ErrUnknownChannel.
	Get(ctx context.Context, id channel.ID) (*Record, error)
	// Update overwrites an existing record.
	Update(ctx context.Context, r *Record) error
	// List returns all records with the given status.
	List(ctx context.Context, status Status) ([]*Record, error)
}

// MemoryStore is an in-memory RecordStore.
type MemoryStore struct {
	mu      stdsync.RWMutex
	records map[channel.ID]*Record
}

var _ RecordStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[channel.ID]*Record)}
}

func (m *MemoryStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrChannelExists
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id channel.ID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return ErrUnknownChannel
	}
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context, status Status) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*Record
	for _, r := range m.records {
		if r.Status == status {
			res = append(res, r.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.Before(res[j].UpdatedAt) })
	return res, nil
}

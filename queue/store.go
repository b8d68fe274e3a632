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

package queue

import (
	"context"
	"sort"
	stdsync "sync"

	"perun.network/perun-nitro-backend/channel"
)

// Store persists actions.
type Store interface {
	// Insert stores a new action and assigns its id. If an action with the
	// same key exists, it is returned instead and created is false.
	Insert(ctx context.Context, a *Action) (stored *Action, created bool, err error)
	// Get returns the action or ErrUnknownAction.
	Get(ctx context.Context, id uint64) (*Action, error)
	// Update overwrites an existing action.
	Update(ctx context.Context, a *Action) error
	// Pending returns up to limit pending actions of a network, oldest
	// first.
	Pending(ctx context.Context, networkID uint64, limit int) ([]*Action, error)
	// List returns all actions of a channel, oldest first.
	List(ctx context.Context, id channel.ID) ([]*Action, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      stdsync.RWMutex
	nextID  uint64
	actions map[uint64]*Action
	keys    map[Key]uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		actions: make(map[uint64]*Action),
		keys:    make(map[Key]uint64),
	}
}

func (m *MemoryStore) Insert(_ context.Context, a *Action) (*Action, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.keys[a.Key()]; ok {
		return m.actions[id].Clone(), false, nil
	}
	stored := a.Clone()
	stored.ID = m.nextID
	m.nextID++
	m.actions[stored.ID] = stored
	m.keys[stored.Key()] = stored.ID
	return stored.Clone(), true, nil
}

func (m *MemoryStore) Get(_ context.Context, id uint64) (*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, ErrUnknownAction
	}
	return a.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, a *Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ID]; !ok {
		return ErrUnknownAction
	}
	m.actions[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) Pending(_ context.Context, networkID uint64, limit int) ([]*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*Action
	for _, a := range m.actions {
		if a.NetworkID == networkID && a.Status == StatusPending {
			res = append(res, a.Clone())
		}
	}
	sortOldestFirst(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) List(_ context.Context, id channel.ID) ([]*Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*Action
	for _, a := range m.actions {
		if a.ChannelID == id {
			res = append(res, a.Clone())
		}
	}
	sortOldestFirst(res)
	return res, nil
}

// sortOldestFirst orders by creation time, ties broken by id.
func sortOldestFirst(as []*Action) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].ID < as[j].ID
		}
		return as[i].CreatedAt.Before(as[j].CreatedAt)
	})
}

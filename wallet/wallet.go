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

package wallet

import (
	"errors"
	"math/rand"

	"polycry.pt/poly-go/sync"

	"perun.network/perun-nitro-backend/wallet/types"
)

var (
	// ErrAccountNotFound is returned by Unlock for unknown addresses.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when adding an account twice.
	ErrAccountExists = errors.New("account already exists")
)

// EphemeralWallet holds accounts in memory, keyed by address.
type EphemeralWallet struct {
	lock     sync.Mutex
	accounts map[types.Address]*Account
}

// Unlock returns the account for the given address.
func (e *EphemeralWallet) Unlock(a types.Address) (*Account, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	account, ok := e.accounts[a]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// Addresses lists the addresses of all accounts in the wallet.
func (e *EphemeralWallet) Addresses() []types.Address {
	e.lock.Lock()
	defer e.lock.Unlock()
	addrs := make([]types.Address, 0, len(e.accounts))
	for a := range e.accounts {
		addrs = append(addrs, a)
	}
	return addrs
}

// AddNewAccount creates a random account and adds it to the wallet.
func (e *EphemeralWallet) AddNewAccount(rng *rand.Rand) (*Account, error) {
	acc := NewRandomAccount(rng)
	return acc, e.AddAccount(acc)
}

// AddAccount adds acc to the wallet.
func (e *EphemeralWallet) AddAccount(acc *Account) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	k := acc.Address()
	if _, ok := e.accounts[k]; ok {
		return ErrAccountExists
	}
	e.accounts[k] = acc
	return nil
}

// NewEphemeralWallet returns an empty wallet.
func NewEphemeralWallet() *EphemeralWallet {
	return &EphemeralWallet{
		accounts: make(map[types.Address]*Account),
	}
}

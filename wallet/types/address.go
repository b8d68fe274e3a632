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

package types

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AddressBinaryLen is the length of the binary representation of Address, in
// bytes.
const AddressBinaryLen = common.AddressLength

// Address is a participant, adjudicator or token address on a settlement
// network.
type Address common.Address

// ZeroAddress is the all-zero address.
var ZeroAddress Address

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return common.Address(a).Bytes()
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalBinary marshals the address into its binary representation.
// Error will always be nil, it is for implementing BinaryMarshaler.
func (a Address) MarshalBinary() ([]byte, error) {
	return a.Bytes(), nil
}

// UnmarshalBinary unmarshals the address from its binary representation.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != AddressBinaryLen {
		return fmt.Errorf("unexpected address length %d, want %d", len(data), AddressBinaryLen) //nolint: goerr113
	}
	(*common.Address)(a).SetBytes(data)
	return nil
}

// MarshalText encodes the address as checksummed hex.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a 0x-prefixed hex address.
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// String converts this address to a checksummed hex string.
func (a Address) String() string {
	return common.Address(a).Hex()
}

// Equal checks the equality of two addresses.
func (a Address) Equal(b Address) bool {
	return a == b
}

// Cmp checks ordering of two addresses.
//
//	0 if a==b,
//
// -1 if a < b,
// +1 if a > b.
func (a Address) Cmp(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// ParseAddress parses a hex address and fails on malformed input, unlike
// common.HexToAddress.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid address %q", s) //nolint: goerr113
	}
	return Address(common.HexToAddress(s)), nil
}

// HexToAddress converts s to an address, ignoring malformed input.
func HexToAddress(s string) Address {
	return Address(common.HexToAddress(s))
}

// AsEthAddr is a helper function to convert an address back into an
// ethereum address.
func AsEthAddr(a Address) common.Address {
	return common.Address(a)
}

// AsWalletAddr is a helper function to convert an ethereum address to an
// address.
func AsWalletAddr(addr common.Address) Address {
	return Address(addr)
}

// AsEthAddrs converts a list of addresses.
func AsEthAddrs(addrs []Address) []common.Address {
	res := make([]common.Address, len(addrs))
	for i, a := range addrs {
		res[i] = AsEthAddr(a)
	}
	return res
}

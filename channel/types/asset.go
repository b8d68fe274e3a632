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
	"perun.network/go-perun/wire/perunio"

	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

type (
	// Asset is a token on a settlement network. The zero token address
	// denotes the network's native currency.
	Asset struct {
		ChainID uint64
		Token   wtypes.Address
	}

	// AssetMapKey is the map key representation of an asset.
	AssetMapKey string
)

// NewAsset returns the asset for token on chain chainID.
func NewAsset(chainID uint64, token common.Address) Asset {
	return Asset{ChainID: chainID, Token: wtypes.AsWalletAddr(token)}
}

// MapKey returns the asset's binary encoding as a map key.
func (a Asset) MapKey() AssetMapKey {
	d, err := a.MarshalBinary()
	if err != nil {
		panic(err)
	}

	return AssetMapKey(d)
}

// MarshalBinary encodes the chain id followed by the token address.
func (a Asset) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	err := perunio.Encode(&buf, a.ChainID, a.Token)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an asset encoded by MarshalBinary.
func (a *Asset) UnmarshalBinary(data []byte) error {
	buf := bytes.NewBuffer(data)
	return perunio.Decode(buf, &a.ChainID, &a.Token)
}

// EthAddress returns the token as an ethereum address.
func (a Asset) EthAddress() common.Address {
	return common.Address(a.Token)
}

// Equal reports whether both assets denote the same token on the same chain.
func (a Asset) Equal(b Asset) bool {
	return a.ChainID == b.ChainID && a.Token.Equal(b.Token)
}

func (a Asset) String() string {
	return fmt.Sprintf("%d:%s", a.ChainID, a.Token)
}

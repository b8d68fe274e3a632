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

package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel/types"
	wtest "perun.network/perun-nitro-backend/wallet/test"
)

func TestMarshalAndUnmarshalBinary(t *testing.T) {
	rng := pkgtest.Prng(t)
	asset := types.Asset{ChainID: rng.Uint64(), Token: wtest.NewRandomAddress(rng)}

	data, err := asset.MarshalBinary()
	require.NoError(t, err)

	var newAsset types.Asset
	require.NoError(t, newAsset.UnmarshalBinary(data))
	require.True(t, asset.Equal(newAsset), "Mismatched asset. Expected %v, got %v", asset, newAsset)
	require.Equal(t, asset.MapKey(), newAsset.MapKey())
}

func TestAssetMapKeyDistinguishesChains(t *testing.T) {
	rng := pkgtest.Prng(t)
	token := wtest.NewRandomAddress(rng)
	a := types.Asset{ChainID: 1, Token: token}
	b := types.Asset{ChainID: 2, Token: token}
	require.False(t, a.Equal(b))
	require.NotEqual(t, a.MapKey(), b.MapKey())
}

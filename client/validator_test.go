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

package client_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/client"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

func TestValidator(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	wallet := common.HexToAddress("0x5afe")
	universal := common.HexToAddress("0x6492")
	chain.code[wallet] = []byte{0x60}
	hash := crypto.Keccak256Hash([]byte("state"))
	goodSig := []byte("approved")

	chain.call = func(msg ethereum.CallMsg) ([]byte, error) {
		switch *msg.To {
		case wallet:
			args, err := client.SignerABI.Methods["isValidSignature"].Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			if string(args[1].([]byte)) == string(goodSig) {
				return append(client.ERC1271MagicValue[:], make([]byte, 28)...), nil
			}
			return make([]byte, 32), nil
		case universal:
			args, err := client.SignerABI.Methods["isValidSig"].Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			require.True(t, channel.IsERC6492(args[2].([]byte)))
			return client.SignerABI.Methods["isValidSig"].Outputs.Pack(true)
		}
		return nil, errNoCall
	}

	v := client.NewValidator(chain, universal)
	ok, err := v.HasCode(ctx, wtypes.Address(wallet))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = v.HasCode(ctx, wtypes.Address(common.HexToAddress("0xe0a")))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.IsValidSignature(ctx, wtypes.Address(wallet), hash, goodSig)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = v.IsValidSignature(ctx, wtypes.Address(wallet), hash, []byte("forged"))
	require.NoError(t, err)
	require.False(t, ok)

	t.Run("reverting signer", func(t *testing.T) {
		ok, err := v.IsValidSignature(ctx, wtypes.Address(common.HexToAddress("0xdead")), hash, goodSig)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("counterfactual", func(t *testing.T) {
		ok, err := v.DeployAndVerify(ctx, wtypes.Address(wallet), hash, common.HexToAddress("0xfac"), []byte{1}, goodSig)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = client.NewValidator(chain, common.Address{}).
			DeployAndVerify(ctx, wtypes.Address(wallet), hash, common.HexToAddress("0xfac"), []byte{1}, goodSig)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

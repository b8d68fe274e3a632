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

package channel_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/perun-nitro-backend/channel"
	chtest "perun.network/perun-nitro-backend/channel/test"
	"perun.network/perun-nitro-backend/wallet"
	wtest "perun.network/perun-nitro-backend/wallet/test"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

func TestSignVerifySchemes(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	st := s.Initial.WithoutSigs()
	other := wallet.NewRandomAccount(rng)

	for _, scheme := range channel.Schemes {
		t.Run(scheme.Name, func(t *testing.T) {
			sig, err := s.Backend.SignWith(s.Accounts[0], scheme, s.ID, st)
			require.NoError(t, err)

			ok, err := s.Backend.Verify(context.Background(), s.Parts[0], s.ID, st, sig)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.Backend.Verify(context.Background(), other.Address(), s.ID, st, sig)
			require.NoError(t, err)
			require.False(t, ok, "signature must not verify for another signer")
		})
	}
}

func TestNoStructuredSupport(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	st := s.Initial.WithoutSigs()
	eip712 := channel.Schemes[2]

	sig, err := s.Backend.SignWith(s.Accounts[0], eip712, s.ID, st)
	require.NoError(t, err)

	plain := channel.NewBackend(s.Backend.ChainID, channel.NoStructuredSupport)
	ok, err := plain.Verify(context.Background(), s.Parts[0], s.ID, st, sig)
	require.NoError(t, err)
	require.False(t, ok, "structured signatures must be skipped without domain support")

	_, err = plain.SignWith(s.Accounts[0], eip712, s.ID, st)
	require.Error(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	sig := s.Initial.Sigs[0]

	tampered := s.Initial.WithoutSigs()
	tampered.Allocations[0].Amount.Add(tampered.Allocations[0].Amount, common.Big1)
	require.False(t, s.Verify(0, tampered, sig))

	tampered = s.Initial.WithoutSigs()
	tampered.Data = []byte{1}
	require.False(t, s.Verify(0, tampered, sig))

	require.True(t, s.Verify(0, s.Initial, sig))
	require.False(t, s.Verify(0, s.Initial, sig[:10]))
}

func TestMockRecovererBackend(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	signers := wtest.NewMockSigners(rng, 2)
	ch := chtest.NewRandomChannel(rng, []wtypes.Address{signers[0].Address(), signers[1].Address()})
	b := channel.NewBackend(chtest.DefaultChainID, channel.NoStructuredSupport)
	b.Recoverer = wtest.MockRecoverer{}
	id, err := b.CalcID(ch)
	require.NoError(t, err)

	st := chtest.NewInitialState(chtest.NewRandomAllocations(rng, ch.Participants, s.Asset))
	for _, signer := range signers {
		sig, err := b.Sign(signer, id, st)
		require.NoError(t, err)
		st.Sigs = append(st.Sigs, sig)
	}
	require.NoError(t, b.ValidateUnanimousSignatures(context.Background(), ch, id, st))

	st.Sigs[0], st.Sigs[1] = st.Sigs[1], st.Sigs[0]
	err = b.ValidateUnanimousSignatures(context.Background(), ch, id, st)
	require.Error(t, err, "signatures must be in participant order")
	require.Equal(t, channel.KindSignature, channel.KindOf(err))
}

func TestValidateUnanimousSignatures(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 3)
	ctx := context.Background()
	require.NoError(t, s.Backend.ValidateUnanimousSignatures(ctx, s.Channel, s.ID, s.Initial))

	missing := s.Initial.Clone()
	missing.Sigs = missing.Sigs[:2]
	err := s.Backend.ValidateUnanimousSignatures(ctx, s.Channel, s.ID, missing)
	require.ErrorIs(t, err, channel.ErrSignatureCount)

	dup := s.Initial.Clone()
	dup.Sigs[2] = dup.Sigs[0]
	err = s.Backend.ValidateUnanimousSignatures(ctx, s.Channel, s.ID, dup)
	require.Error(t, err)
	require.Equal(t, channel.KindSignature, channel.KindOf(err))
}

// contractSigner pretends parts are contracts and accepts a fixed signature.
type contractSigner struct {
	contracts map[wtypes.Address]bool
	accept    []byte
	deployed  []common.Address
}

func (c *contractSigner) HasCode(_ context.Context, addr wtypes.Address) (bool, error) {
	return c.contracts[addr], nil
}

func (c *contractSigner) IsValidSignature(_ context.Context, _ wtypes.Address, _ common.Hash, sig []byte) (bool, error) {
	return string(sig) == string(c.accept), nil
}

func (c *contractSigner) DeployAndVerify(_ context.Context, _ wtypes.Address, _ common.Hash, factory common.Address, _, sig []byte) (bool, error) {
	c.deployed = append(c.deployed, factory)
	return string(sig) == string(c.accept), nil
}

func TestContractSigners(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	ctx := context.Background()
	v := &contractSigner{
		contracts: map[wtypes.Address]bool{s.Parts[1]: true},
		accept:    []byte("contract says yes"),
	}
	s.Backend.Validator = v
	st := s.Initial.WithoutSigs()

	ok, err := s.Backend.Verify(ctx, s.Parts[1], s.ID, st, v.accept)
	require.NoError(t, err)
	require.True(t, ok, "ERC-1271 signer")

	ok, err = s.Backend.Verify(ctx, s.Parts[1], s.ID, st, s.Initial.Sigs[1])
	require.NoError(t, err)
	require.False(t, ok, "contract signers are not verified with ECDSA")

	ok, err = s.Backend.Verify(ctx, s.Parts[0], s.ID, st, s.Initial.Sigs[0])
	require.NoError(t, err)
	require.True(t, ok, "plain keys still use ECDSA")

	factory := common.Address(wtest.NewRandomAddress(rng))
	wrapped, err := channel.WrapERC6492(factory, []byte{0xde, 0xad}, v.accept)
	require.NoError(t, err)
	require.True(t, channel.IsERC6492(wrapped))

	gotFactory, calldata, inner, err := channel.UnwrapERC6492(wrapped)
	require.NoError(t, err)
	require.Equal(t, factory, gotFactory)
	require.Equal(t, []byte{0xde, 0xad}, calldata)
	require.Equal(t, v.accept, inner)

	ok, err = s.Backend.Verify(ctx, s.Parts[0], s.ID, st, wrapped)
	require.NoError(t, err)
	require.True(t, ok, "ERC-6492 signer")
	require.Equal(t, []common.Address{factory}, v.deployed)
}

// The structured digest must equal go-ethereum's full EIP-712 hash of the
// state under a real custody domain.
func TestStructuredDigestWithDomain(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := chtest.NewSetup(t, rng, 2)
	st := s.Initial.WithoutSigs()
	es := channel.ToEthState(s.ID, st)

	allocs := make([]interface{}, len(es.Allocations))
	for i, a := range es.Allocations {
		allocs[i] = map[string]interface{}{
			"destination": a.Destination.Hex(),
			"token":       a.Token.Hex(),
			"amount":      a.Amount,
		}
	}
	chainID := math.HexOrDecimal256(*big.NewInt(chtest.DefaultChainID))
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"AllowStateHash": {
				{Name: "channelId", Type: "bytes32"},
				{Name: "intent", Type: "uint8"},
				{Name: "version", Type: "uint256"},
				{Name: "data", Type: "bytes"},
				{Name: "allocations", Type: "Allocation[]"},
			},
			"Allocation": {
				{Name: "destination", Type: "address"},
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
		},
		PrimaryType: "AllowStateHash",
		Domain: apitypes.TypedDataDomain{
			Name:              "Nitrolite:Custody",
			Version:           "0.3.0",
			ChainId:           &chainID,
			VerifyingContract: common.Address(s.Channel.Adjudicator).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"channelId":   hexutil.Encode(es.ChannelID[:]),
			"intent":      new(big.Int).SetUint64(uint64(es.Intent)),
			"version":     es.Version,
			"data":        es.Data,
			"allocations": allocs,
		},
	}
	want, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	separator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	require.NoError(t, err)

	b := channel.NewBackend(chtest.DefaultChainID, common.BytesToHash(separator))
	d, err := b.Digests(s.ID, st)
	require.NoError(t, err)
	require.True(t, d.Typed)
	require.Equal(t, common.BytesToHash(want), d.Structured)

	sig, err := b.SignWith(s.Accounts[0], channel.Schemes[2], s.ID, st)
	require.NoError(t, err)
	ok, err := b.Verify(context.Background(), s.Parts[0], s.ID, st, sig)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, b.ValidateUnanimousSignatures(context.Background(), s.Channel, s.ID, s.SignAll(st.Clone())))
}

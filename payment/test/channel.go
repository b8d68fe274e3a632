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

package test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	nodetest "perun.network/perun-nitro-backend/node/test"
	"perun.network/perun-nitro-backend/payment"
)

// OpenChannel opens a channel on the env's asset in which the client locks
// balance and the node nodeBalance.
func OpenChannel(t *testing.T, env *nodetest.Env, c *payment.Client, balance, nodeBalance int64) *payment.Channel {
	ch, err := c.OpenChannel(context.Background(), payment.Proposal{
		Asset:       env.Asset,
		Balance:     big.NewInt(balance),
		NodeBalance: big.NewInt(nodeBalance),
		Challenge:   env.Channel.Challenge,
		Nonce:       env.Channel.Nonce,
	})
	require.NoError(t, err)
	return ch
}

// RequireAllocations checks the allocations of the channel's current state.
func RequireAllocations(t *testing.T, ch *payment.Channel, client, node int64) {
	st := ch.State()
	require.Zero(t, big.NewInt(client).Cmp(st.Allocations[payment.ClientIdx].Amount), "client allocation")
	require.Zero(t, big.NewInt(node).Cmp(st.Allocations[payment.NodeIdx].Amount), "node allocation")
}

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
	"testing"

	"github.com/stretchr/testify/require"

	nodetest "perun.network/perun-nitro-backend/node/test"
	"perun.network/perun-nitro-backend/payment"
	"perun.network/perun-nitro-backend/wallet"
)

// SetupPaymentClient connects acc to the env's node.
func SetupPaymentClient(t *testing.T, env *nodetest.Env, acc wallet.Signer, opts ...payment.Option) *payment.Client {
	c, err := payment.Connect(context.Background(), env.Dial(t, acc), acc, opts...)
	require.NoError(t, err)
	return c
}

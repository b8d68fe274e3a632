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

package main

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"perun.network/go-perun/log"

	"perun.network/perun-nitro-backend/channel/types"
	"perun.network/perun-nitro-backend/payment"
	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/store"
	"perun.network/perun-nitro-backend/util"
	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh private key and its address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, acc, err := util.MakeRandWallet()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address:     %s\nprivate_key: 0x%s\n", acc.Address(), acc.PrivateKeyHex())
			return nil
		},
	}
}

func depositCmd() *cobra.Command {
	var account, token, amount string
	var chainID uint64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit an account's available custody balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !common.IsHexAddress(account) || !common.IsHexAddress(token) {
				return errors.New("account and token must be hex addresses")
			}
			v, err := util.ParseAmount(amount)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			asset := types.NewAsset(chainID, common.HexToAddress(token))
			addr := wtypes.AsWalletAddr(common.HexToAddress(account))
			if err := util.FundAccounts(cmd.Context(), st.Ledger(), asset, v, addr); err != nil {
				return err
			}
			bal, err := st.Ledger().Balance(cmd.Context(), addr, asset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v of %v\n", addr, bal, asset)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account to credit")
	cmd.Flags().StringVar(&token, "token", common.Address{}.Hex(), "token address, zero for the native currency")
	cmd.Flags().StringVar(&amount, "amount", "0", "amount in base units")
	cmd.Flags().Uint64Var(&chainID, "chain", 0, "chain id of the asset")
	return cmd
}

// demoCmd opens a channel with a running node, makes a few payments and
// settles cooperatively.
func demoCmd() *cobra.Command {
	var url, nodeAddr, key, token string
	var chainID uint64
	var deposit, nodeDeposit, payments int64
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a payment channel against a node",
		Long:  "Run a payment channel against a node. The client account needs a deposit on the node, see the deposit command.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogging("info", "text"); err != nil {
				return err
			}
			ctx := cmd.Context()
			var signer wallet.Signer
			if key == "" {
				_, acc, err := util.MakeRandWallet()
				if err != nil {
					return err
				}
				signer = acc
			} else {
				acc, err := wallet.NewAccountFromHex(key)
				if err != nil {
					return err
				}
				signer = acc
			}
			log.Infof("Client %s", signer.Address())

			tr, err := rpc.Dial(ctx, url)
			if err != nil {
				return err
			}
			conn := rpc.NewConn(tr, signer, wtypes.AsWalletAddr(common.HexToAddress(nodeAddr)))
			defer conn.Close()
			c, err := payment.Connect(ctx, conn, signer)
			if err != nil {
				return err
			}

			ch, err := c.OpenChannel(ctx, payment.Proposal{
				Asset:       types.NewAsset(chainID, common.HexToAddress(token)),
				Balance:     big.NewInt(deposit),
				NodeBalance: big.NewInt(nodeDeposit),
				Nonce:       uint64(time.Now().UnixNano()),
			})
			if err != nil {
				return err
			}
			log.Infof("Opened channel %v", ch.ID())
			for i := int64(0); i < payments; i++ {
				if err := ch.SendPayment(ctx, big.NewInt(1)); err != nil {
					return err
				}
			}
			log.Infof("Sent %d payments, balance %v", payments, ch.Balance())
			if err := ch.Settle(ctx); err != nil {
				return err
			}
			actions, err := ch.Actions(ctx)
			if err != nil {
				return err
			}
			log.Infof("Settled, %d settlement actions queued", len(actions))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8000", "node websocket url")
	cmd.Flags().StringVar(&nodeAddr, "node", "", "node address")
	cmd.Flags().StringVar(&key, "key", "", "client private key, random if empty")
	cmd.Flags().StringVar(&token, "token", common.Address{}.Hex(), "token address")
	cmd.Flags().Uint64Var(&chainID, "chain", 0, "chain id")
	cmd.Flags().Int64Var(&deposit, "deposit", 100, "client deposit")
	cmd.Flags().Int64Var(&nodeDeposit, "node-deposit", 0, "node deposit")
	cmd.Flags().Int64Var(&payments, "payments", 10, "number of payments")
	return cmd
}

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
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"perun.network/go-perun/log"
	perrors "polycry.pt/poly-go/errors"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/client"
	"perun.network/perun-nitro-backend/config"
	"perun.network/perun-nitro-backend/custody"
	"perun.network/perun-nitro-backend/node"
	"perun.network/perun-nitro-backend/queue"
	"perun.network/perun-nitro-backend/rpc"
	"perun.network/perun-nitro-backend/store"
	"perun.network/perun-nitro-backend/store/psql"
	"perun.network/perun-nitro-backend/wallet"
	wtypes "perun.network/perun-nitro-backend/wallet/types"
)

const shutdownTimeout = 5 * time.Second

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg)
		},
	}
	cmd.Flags().String("listen_addr", "", "websocket rpc listen address")
	cmd.Flags().String("metrics_addr", "", "prometheus listen address, empty to disable")
	cmd.Flags().String("log_level", "", "log level")
	return cmd
}

type settlement struct {
	network *node.Network
	backend *client.ContractBackend
	watcher *client.Watcher
	poll    time.Duration
}

func runNode(ctx context.Context, cfg *config.Config) error {
	signer, err := cfg.Signer()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	var sink client.EventSink
	if cfg.Database.EventsDSN != "" {
		es, err := psql.NewEventSink(cfg.Database.EventsDSN)
		if err != nil {
			return err
		}
		defer es.Stop()
		if err := es.Migrate(); err != nil {
			return err
		}
		sink = es
	}

	q := queue.New(st.Actions(), queue.Config{
		MaxRetries:   cfg.Queue.MaxRetries,
		BatchSize:    cfg.Queue.BatchSize,
		PollInterval: cfg.Queue.PollInterval,
	}, queue.PrometheusMetrics(metricsNamespace))
	defer q.Close()

	var settlements []*settlement
	for i := range cfg.Networks {
		s, err := connectNetwork(ctx, cfg, &cfg.Networks[i], st, signer, sink)
		if err != nil {
			return errors.WithMessagef(err, "network %d", cfg.Networks[i].ChainID)
		}
		if _, err := q.Register(s.network.ChainID, s.backend); err != nil {
			return err
		}
		settlements = append(settlements, s)
	}

	server, err := rpc.NewServer(signer, rpc.ServerConfig{
		ReplayWindow: cfg.ReplayWindow,
		Tolerance:    cfg.TimestampTolerance,
		Metrics:      rpc.PrometheusMetrics(metricsNamespace),
		CheckOrigin:  func(*http.Request) bool { return true },
	})
	if err != nil {
		return err
	}
	defer server.Close()

	networks := make([]*node.Network, len(settlements))
	for i, s := range settlements {
		networks[i] = s.network
	}
	if _, err := node.New(signer, server, q, networks...); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g := perrors.NewGatherer()
	go func() {
		select {
		case <-g.Failed():
			cancel()
		case <-ctx.Done():
		}
	}()
	serve(ctx, g, cfg.ListenAddr, server)
	if cfg.MetricsAddr != "" {
		serve(ctx, g, cfg.MetricsAddr, promhttp.Handler())
	}
	g.Go(func() error { return q.Run(ctx) })
	for _, s := range settlements {
		if s.watcher != nil {
			s := s
			g.Go(func() error { return s.watcher.Run(ctx, s.poll) })
		}
	}
	log.WithField("address", signer.Address()).Infof("Node listening on %s", cfg.ListenAddr)
	return g.Wait()
}

func connectNetwork(ctx context.Context, cfg *config.Config, nc *config.NetworkConfig, st *store.Store, signer wallet.Signer, sink client.EventSink) (*settlement, error) {
	eth, err := ethclient.DialContext(ctx, nc.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "dialing rpc")
	}
	custodyAddr := common.HexToAddress(nc.Custody)
	cb := client.NewContractBackend(eth, nc.ChainID, custodyAddr, signer)

	domain, ok := nc.FixedDomain()
	if !ok {
		if domain, err = cb.DomainSeparator(ctx); err != nil {
			return nil, err
		}
	}
	backend := channel.NewBackend(nc.ChainID, domain)
	backend.Validator = client.NewValidator(eth, nc.ValidatorAddress())

	adjudicator := wtypes.AsWalletAddr(common.HexToAddress(nc.Adjudicator))
	c := custody.New(custody.Config{
		Backend: backend,
		Adjudicators: map[wtypes.Address]channel.Adjudicator{
			adjudicator: channel.NewConsensusTransition(backend),
		},
		Store:        st.Records(),
		Ledger:       st.Ledger(),
		MinChallenge: cfg.MinChallenge,
	})

	s := &settlement{
		network: &node.Network{
			NetworkConfig: node.NetworkConfig{
				ChainID:        nc.ChainID,
				CustodyAddress: wtypes.AsWalletAddr(custodyAddr),
				Adjudicator:    adjudicator,
			},
			Custody: c,
		},
		backend: cb,
		poll:    nc.PollInterval,
	}
	if sink != nil {
		if s.poll <= 0 {
			s.poll = cfg.Queue.PollInterval
		}
		s.watcher = client.NewWatcher(eth, nc.ChainID, custodyAddr, sink, nc.StartBlock)
	}
	return s, nil
}

// serve runs an http server on addr until ctx is done.
func serve(ctx context.Context, g *perrors.Gatherer, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: shutdownTimeout}
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

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

// Package config holds the configuration of a nitro node. It is read with
// viper from a config file and NITRO_ prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"perun.network/perun-nitro-backend/channel"
	"perun.network/perun-nitro-backend/store"
	"perun.network/perun-nitro-backend/wallet"
)

// EnvPrefix prefixes all environment variables.
const EnvPrefix = "NITRO"

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

var (
	ErrNoNetworks  = errors.New("at least one network must be configured")
	ErrNoKey       = errors.New("private key is required")
	ErrLogFormat   = errors.New("log format must be text or json")
	ErrBadAddress  = errors.New("invalid address")
	ErrDupNetwork  = errors.New("duplicate network")
	ErrBadDomain   = errors.New("invalid domain separator")
	ErrNoRPCURL    = errors.New("network rpc url is required")
	ErrZeroChainID = errors.New("network chain id is required")
)

type (
	// Config is the node configuration.
	Config struct {
		LogLevel  string `mapstructure:"log_level"`
		LogFormat string `mapstructure:"log_format"`
		// ListenAddr serves the websocket RPC endpoint.
		ListenAddr string `mapstructure:"listen_addr"`
		// MetricsAddr serves prometheus metrics. Empty disables metrics.
		MetricsAddr string `mapstructure:"metrics_addr"`
		// PrivateKey is the hex encoded key of the node's signer.
		PrivateKey         string        `mapstructure:"private_key"`
		ReplayWindow       int           `mapstructure:"replay_window"`
		TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance"`
		MinChallenge       time.Duration `mapstructure:"min_challenge"`

		Database DatabaseConfig  `mapstructure:"database"`
		Queue    QueueConfig     `mapstructure:"queue"`
		Networks []NetworkConfig `mapstructure:"networks"`
	}

	// DatabaseConfig selects the record store.
	DatabaseConfig struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
		// EventsDSN is the postgres database of settlement events. Empty
		// disables event indexing.
		EventsDSN string `mapstructure:"events_dsn"`
	}

	// QueueConfig configures the blockchain action queue.
	QueueConfig struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		BatchSize    int           `mapstructure:"batch_size"`
		MaxRetries   int           `mapstructure:"max_retries"`
	}

	// NetworkConfig is a settlement network.
	NetworkConfig struct {
		ChainID     uint64 `mapstructure:"chain_id"`
		RPCURL      string `mapstructure:"rpc_url"`
		Custody     string `mapstructure:"custody"`
		Adjudicator string `mapstructure:"adjudicator"`
		// Domain overrides the domain separator reported by the custody.
		Domain string `mapstructure:"domain"`
		// NoEIP712 disables structured signatures.
		NoEIP712 bool `mapstructure:"no_eip712"`
		// Validator is the ERC-6492 UniversalSigValidator.
		Validator    string        `mapstructure:"validator"`
		StartBlock   uint64        `mapstructure:"start_block"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	}
)

// Default returns the default configuration without networks.
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          LogFormatText,
		ListenAddr:         ":8000",
		MetricsAddr:        ":9090",
		ReplayWindow:       1000,
		TimestampTolerance: 5 * time.Second,
		MinChallenge:       time.Hour,
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			DSN:    "nitronode.db",
		},
		Queue: QueueConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    10,
			MaxRetries:   5,
		},
	}
}

// SetDefaults registers the defaults with v so that environment variables
// of unset keys are honoured.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("private_key", "")
	v.SetDefault("replay_window", d.ReplayWindow)
	v.SetDefault("timestamp_tolerance", d.TimestampTolerance)
	v.SetDefault("min_challenge", d.MinChallenge)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.events_dsn", "")
	v.SetDefault("queue.poll_interval", d.Queue.PollInterval)
	v.SetDefault("queue.batch_size", d.Queue.BatchSize)
	v.SetDefault("queue.max_retries", d.Queue.MaxRetries)
}

// InitEnv makes v read NITRO_ prefixed environment variables. Nested keys
// use underscores, e.g. NITRO_DATABASE_DSN.
func InitEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v. If file is not empty, it is merged
// first.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	InitEnv(v)
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.WithMessagef(err, "reading %s", file)
		}
	}
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WithMessage(err, "decoding config")
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return ErrNoKey
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		return errors.WithMessagef(ErrLogFormat, "got %q", c.LogFormat)
	}
	if c.Database.Driver != store.DriverPostgres && c.Database.Driver != store.DriverSQLite {
		return errors.WithMessagef(store.ErrUnknownDriver, "%q", c.Database.Driver)
	}
	if len(c.Networks) == 0 {
		return ErrNoNetworks
	}
	seen := make(map[uint64]bool, len(c.Networks))
	for i := range c.Networks {
		n := &c.Networks[i]
		if err := n.Validate(); err != nil {
			return errors.WithMessagef(err, "network %d", i)
		}
		if seen[n.ChainID] {
			return errors.WithMessagef(ErrDupNetwork, "chain %d", n.ChainID)
		}
		seen[n.ChainID] = true
	}
	return nil
}

// Signer unlocks the node's account.
func (c *Config) Signer() (*wallet.Account, error) {
	return wallet.NewAccountFromHex(c.PrivateKey)
}

// Validate checks the network configuration.
func (n *NetworkConfig) Validate() error {
	if n.ChainID == 0 {
		return ErrZeroChainID
	}
	if n.RPCURL == "" {
		return ErrNoRPCURL
	}
	for _, a := range []string{n.Custody, n.Adjudicator} {
		if !common.IsHexAddress(a) {
			return errors.WithMessagef(ErrBadAddress, "%q", a)
		}
	}
	if n.Validator != "" && !common.IsHexAddress(n.Validator) {
		return errors.WithMessagef(ErrBadAddress, "validator %q", n.Validator)
	}
	if n.Domain != "" && len(common.FromHex(n.Domain)) != common.HashLength {
		return errors.WithMessagef(ErrBadDomain, "%q", n.Domain)
	}
	return nil
}

// FixedDomain returns the configured domain separator, if any.
func (n *NetworkConfig) FixedDomain() (common.Hash, bool) {
	switch {
	case n.NoEIP712:
		return channel.NoStructuredSupport, true
	case n.Domain != "":
		return common.HexToHash(n.Domain), true
	}
	return common.Hash{}, false
}

// ValidatorAddress returns the ERC-6492 validator, or the zero address.
func (n *NetworkConfig) ValidatorAddress() common.Address {
	if n.Validator == "" {
		return common.Address{}
	}
	return common.HexToAddress(n.Validator)
}

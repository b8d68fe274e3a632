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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	plogrus "perun.network/go-perun/log/logrus"

	"perun.network/perun-nitro-backend/config"
)

const metricsNamespace = "nitro"

var configFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nitronode",
		Short:         "Nitro state channel settlement node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (toml, yaml or json)")
	cmd.AddCommand(startCmd(), keygenCmd(), depositCmd(), demoCmd())
	return cmd
}

// loadConfig reads the config file and binds the command's flags, which
// take precedence over file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	return cfg, setupLogging(cfg.LogLevel, cfg.LogFormat)
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if format == config.LogFormatJSON {
		formatter = &logrus.JSONFormatter{}
	}
	plogrus.Set(lvl, formatter)
	return nil
}

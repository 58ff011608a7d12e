/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"driftdb/internal/config"
	"driftdb/internal/logging"
)

// Version is the DriftDB release version.
const Version = "0.9.2"

var (
	flagConfig   string
	flagDataDir  string
	flagBaseName string
	flagListen   string
	flagRole     string
	flagLogLevel string
	flagLogJSON  bool

	rootCmd = &cobra.Command{
		Use:   "driftdb",
		Short: "embeddable file-backed document store",
		Long: fmt.Sprintf(`DriftDB (v%s)

An embeddable, file-backed document store with a real-time access surface:
snapshot + write-ahead-log durability, secondary indexes, TTL, watchers,
collections with schema validation, and primary/replica replication.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of DriftDB",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DriftDB v%s\n", Version)
		},
	}
)

func init() {
	// .env bootstrap: explicit environment still wins over the file.
	godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for snapshot, WAL and backups")
	rootCmd.PersistentFlags().StringVar(&flagBaseName, "base-name", "", "base file name of the persisted layout")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "HTTP listen address")
	rootCmd.PersistentFlags().StringVar(&flagRole, "role", "", "node role: standalone, primary or replica")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit JSON log lines")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(discoverCmd)
}

// loadConfig builds the effective configuration: defaults < file < env <
// flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagBaseName != "" {
		cfg.BaseName = flagBaseName
	}
	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}
	if flagRole != "" {
		cfg.Role = flagRole
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogJSON {
		cfg.LogJSON = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	return cfg, nil
}

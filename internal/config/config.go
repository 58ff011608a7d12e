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

/*
Package config provides configuration management for DriftDB.

Configuration sources are merged with clear precedence:
 1. Command-line flags (highest priority, applied by the CLI)
 2. Environment variables
 3. Configuration file (TOML)
 4. Default values (lowest priority)

Example configuration file:

	# DriftDB Configuration
	role = "primary"
	node_id = ""              # empty = random UUID
	data_dir = "/var/lib/driftdb"
	base_name = "drift"
	snapshot_ext = "json"
	cache_limit = 1024
	save_interval_secs = 30   # snapshot compaction interval
	sync_interval_secs = 10   # replication heartbeat interval
	backup_retention = 5
	listen_addr = ":8844"
	followers = ["10.0.0.2:8844"]
	log_level = "info"
	log_json = false

Environment Variables:
  - DRIFTDB_ROLE: node role (standalone, primary, replica)
  - DRIFTDB_NODE_ID: stable node identity (default: random UUID)
  - DRIFTDB_DATA_DIR: directory holding snapshot, WAL and backups
  - DRIFTDB_BASE_NAME: base file name for the persisted layout
  - DRIFTDB_CACHE_LIMIT: hot cache capacity in entries
  - DRIFTDB_SAVE_INTERVAL: snapshot compaction interval in seconds
  - DRIFTDB_SYNC_INTERVAL: heartbeat interval in seconds
  - DRIFTDB_BACKUP_RETENTION: number of snapshot backups kept
  - DRIFTDB_LISTEN_ADDR: HTTP listen address
  - DRIFTDB_FOLLOWERS: comma-separated follower addresses (primary only)
  - DRIFTDB_LOG_LEVEL: log level (debug, info, warn, error)
  - DRIFTDB_LOG_JSON: enable JSON logging (true/false)
  - DRIFTDB_CONFIG_FILE: path to a TOML configuration file
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names for configuration.
const (
	EnvRole            = "DRIFTDB_ROLE"
	EnvNodeID          = "DRIFTDB_NODE_ID"
	EnvDataDir         = "DRIFTDB_DATA_DIR"
	EnvBaseName        = "DRIFTDB_BASE_NAME"
	EnvCacheLimit      = "DRIFTDB_CACHE_LIMIT"
	EnvSaveInterval    = "DRIFTDB_SAVE_INTERVAL"
	EnvSyncInterval    = "DRIFTDB_SYNC_INTERVAL"
	EnvBackupRetention = "DRIFTDB_BACKUP_RETENTION"
	EnvListenAddr      = "DRIFTDB_LISTEN_ADDR"
	EnvFollowers       = "DRIFTDB_FOLLOWERS"
	EnvLogLevel        = "DRIFTDB_LOG_LEVEL"
	EnvLogJSON         = "DRIFTDB_LOG_JSON"
	EnvConfigFile      = "DRIFTDB_CONFIG_FILE"
)

// Role names accepted by the replication controller.
const (
	RoleStandalone = "standalone"
	RolePrimary    = "primary"
	RoleReplica    = "replica"
)

// Config holds all configuration for a DriftDB node.
// Struct tags map TOML keys to fields explicitly.
type Config struct {
	Role             string   `toml:"role"`
	NodeID           string   `toml:"node_id"`
	DataDir          string   `toml:"data_dir"`
	BaseName         string   `toml:"base_name"`
	SnapshotExt      string   `toml:"snapshot_ext"`
	CacheLimit       int      `toml:"cache_limit"`
	SaveIntervalSecs int      `toml:"save_interval_secs"`
	SyncIntervalSecs int      `toml:"sync_interval_secs"`
	BackupRetention  int      `toml:"backup_retention"`
	ListenAddr       string   `toml:"listen_addr"`
	Followers        []string `toml:"followers"`
	LogLevel         string   `toml:"log_level"`
	LogJSON          bool     `toml:"log_json"`
}

// GetDefaultDataDir returns the default directory for database storage.
// Root users get /var/lib/driftdb (Filesystem Hierarchy Standard); other
// users get an XDG data directory.
func GetDefaultDataDir() string {
	if os.Getuid() == 0 {
		return "/var/lib/driftdb"
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "driftdb")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "driftdb")
	}
	return "./data"
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Role:             RoleStandalone,
		DataDir:          GetDefaultDataDir(),
		BaseName:         "drift",
		SnapshotExt:      "json",
		CacheLimit:       1024,
		SaveIntervalSecs: 30,
		SyncIntervalSecs: 10,
		BackupRetention:  5,
		ListenAddr:       ":8844",
		LogLevel:         "info",
	}
}

// Load builds a Config from defaults, then the TOML file at path (skipped
// when path is empty and DRIFTDB_CONFIG_FILE is unset), then environment
// variables. Flags are layered on top by the CLI.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRole); v != "" {
		c.Role = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvBaseName); v != "" {
		c.BaseName = v
	}
	if v := os.Getenv(EnvCacheLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CacheLimit = n
		}
	}
	if v := os.Getenv(EnvSaveInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SaveIntervalSecs = n
		}
	}
	if v := os.Getenv(EnvSyncInterval); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SyncIntervalSecs = n
		}
	}
	if v := os.Getenv(EnvBackupRetention); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackupRetention = n
		}
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(EnvFollowers); v != "" {
		parts := strings.Split(v, ",")
		c.Followers = c.Followers[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				c.Followers = append(c.Followers, p)
			}
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		c.LogJSON = v == "true" || v == "1"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleStandalone, RolePrimary, RoleReplica:
	default:
		return fmt.Errorf("invalid role '%s' (expected standalone, primary or replica)", c.Role)
	}
	if c.BaseName == "" {
		return fmt.Errorf("base_name must not be empty")
	}
	if c.CacheLimit < 0 {
		return fmt.Errorf("cache_limit must not be negative")
	}
	if c.BackupRetention < 0 {
		return fmt.Errorf("backup_retention must not be negative")
	}
	if c.SaveIntervalSecs <= 0 {
		return fmt.Errorf("save_interval_secs must be positive")
	}
	if c.SyncIntervalSecs <= 0 {
		return fmt.Errorf("sync_interval_secs must be positive")
	}
	return nil
}

// BasePath returns the persisted layout's base path without extension:
// <data_dir>/<base_name>.
func (c *Config) BasePath() string {
	return filepath.Join(c.DataDir, c.BaseName)
}

// SnapshotPath returns the snapshot file path (<base>.<ext>).
func (c *Config) SnapshotPath() string {
	return c.BasePath() + "." + c.SnapshotExt
}

// WALPath returns the write-ahead log path (<base>.log).
func (c *Config) WALPath() string {
	return c.BasePath() + ".log"
}

// SaveInterval returns the snapshot compaction interval.
func (c *Config) SaveInterval() time.Duration {
	return time.Duration(c.SaveIntervalSecs) * time.Second
}

// SyncInterval returns the replication heartbeat interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSecs) * time.Second
}

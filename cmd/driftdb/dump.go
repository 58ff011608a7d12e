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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"driftdb/internal/storage"
)

var (
	flagDumpWAL bool

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Inspect a persisted layout offline",
		Long: `Print the snapshot contents, and with --wal the pending WAL records, of
the configured data directory. Read-only; safe against a crashed node's
files.`,
		RunE: runDump,
	}
)

func init() {
	dumpCmd.Flags().BoolVar(&flagDumpWAL, "wal", false, "also print WAL records")
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snap := storage.NewSnapshotter(cfg.BasePath(), cfg.SnapshotExt, cfg.BackupRetention)
	data, warning, err := snap.Load()
	if err != nil {
		return err
	}
	if warning != "" {
		fmt.Println("# warning:", warning)
	}

	fmt.Printf("# snapshot: %s (%d keys)\n", snap.Path(), len(data))
	for key, value := range data {
		line, err := json.Marshal(map[string]interface{}{key: value})
		if err != nil {
			continue
		}
		fmt.Println(string(line))
	}

	if !flagDumpWAL {
		return nil
	}

	wal, err := storage.OpenWAL(cfg.WALPath())
	if err != nil {
		return err
	}
	defer wal.Close()

	fmt.Printf("# wal: %s\n", cfg.WALPath())
	records := 0
	skipped, err := wal.Replay(func(rec storage.Record) {
		records++
		line, merr := json.Marshal(rec)
		if merr != nil {
			return
		}
		fmt.Println(string(line))
	})
	if err != nil {
		return err
	}
	fmt.Printf("# %d records", records)
	if skipped > 0 {
		fmt.Printf(", %d malformed lines skipped", skipped)
	}
	fmt.Println()
	return nil
}

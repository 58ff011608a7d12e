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
Snapshot Implementation
=======================

A snapshot is a full JSON serialisation of the store at a point in time.
Together with the WAL it forms the persisted layout:

	<base>.<ext>            snapshot (JSON object: key -> value)
	<base>.log              write-ahead log
	<base>.backup_<ts>      rotated pre-write backups (bounded retention)
	<base>.tmp              in-flight snapshot write; never a source of truth

Atomic Commit:
==============

Write() stages the new snapshot in <base>.tmp and then renames it over
<base>.<ext>. The rename is the commit point: if the process dies before the
rename, the old snapshot survives intact; a stale .tmp left behind is
overwritten on the next attempt.

Recovery Ladder:
================

Load() tries, in order:

 1. The snapshot file. Absent -> empty store (not an error).
 2. Each backup, newest first: copy over the snapshot, re-parse.
 3. Empty store with a surfaced recovery warning.

Corruption at startup is therefore non-fatal whenever any recovery path
succeeds.
*/
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"driftdb/internal/logging"
)

// backupTimeFormat produces lexicographically sortable, filename-safe
// ISO 8601 timestamps.
const backupTimeFormat = "2006-01-02T15-04-05.000000000Z"

// Snapshotter manages the snapshot file, its staging file and its backups.
type Snapshotter struct {
	base      string // path without extension, e.g. /var/lib/driftdb/drift
	ext       string // snapshot extension, e.g. "json"
	retention int    // max backups kept; 0 disables backups

	log *logging.Logger
}

// NewSnapshotter creates a Snapshotter for the persisted layout rooted at
// base (path without extension).
func NewSnapshotter(base, ext string, retention int) *Snapshotter {
	return &Snapshotter{
		base:      base,
		ext:       ext,
		retention: retention,
		log:       logging.NewLogger("storage"),
	}
}

// Path returns the snapshot file path.
func (s *Snapshotter) Path() string { return s.base + "." + s.ext }

func (s *Snapshotter) tmpPath() string { return s.base + ".tmp" }

func (s *Snapshotter) backupPrefix() string { return filepath.Base(s.base) + ".backup_" }

// Load reads the snapshot and returns the store contents. The returned
// warning is non-empty when a recovery path was taken (backup restore or
// degradation to empty); per the engine contract that is surfaced, not
// fatal.
func (s *Snapshotter) Load() (data map[string]interface{}, warning string, err error) {
	raw, rerr := os.ReadFile(s.Path())
	if os.IsNotExist(rerr) {
		return map[string]interface{}{}, "", nil
	}
	if rerr == nil {
		data, perr := parseSnapshot(raw)
		if perr == nil {
			return data, "", nil
		}
		s.log.Warn("snapshot unreadable, trying backups", "path", s.Path(), "error", perr)
	} else {
		s.log.Warn("snapshot unreadable, trying backups", "path", s.Path(), "error", rerr)
	}

	for _, backup := range s.Backups() {
		raw, berr := os.ReadFile(backup)
		if berr != nil {
			continue
		}
		data, perr := parseSnapshot(raw)
		if perr != nil {
			s.log.Warn("backup unreadable", "path", backup, "error", perr)
			continue
		}
		// Put the intact backup in place so the next startup is clean.
		if werr := os.WriteFile(s.tmpPath(), raw, 0644); werr == nil {
			if rerr := os.Rename(s.tmpPath(), s.Path()); rerr != nil {
				s.log.Warn("failed to restore backup in place", "error", rerr)
			}
		}
		return data, fmt.Sprintf("snapshot recovered from backup %s", filepath.Base(backup)), nil
	}

	return map[string]interface{}{}, "snapshot and all backups unreadable; starting empty", nil
}

func parseSnapshot(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

// Write atomically replaces the snapshot with a serialisation of data.
// The current snapshot (if any) is first rotated into a timestamped backup.
func (s *Snapshotter) Write(data map[string]interface{}) error {
	dir := filepath.Dir(s.base)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return wrapPathError(err, dir, "create directory")
		}
	}

	if s.retention > 0 {
		s.rotateBackup()
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	// Stage then rename. An existing stale .tmp from a failed attempt is
	// simply overwritten.
	f, err := os.OpenFile(s.tmpPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return wrapPathError(err, s.tmpPath(), "write snapshot staging file")
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return wrapPathError(err, s.tmpPath(), "write snapshot staging file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return wrapPathError(err, s.tmpPath(), "sync snapshot staging file")
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(s.tmpPath(), s.Path()); err != nil {
		return wrapPathError(err, s.Path(), "commit snapshot")
	}
	return nil
}

// rotateBackup copies the current snapshot to a timestamped backup and
// prunes backups beyond the retention bound.
func (s *Snapshotter) rotateBackup() {
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		return // nothing to back up
	}
	name := s.base + ".backup_" + time.Now().UTC().Format(backupTimeFormat)
	if err := os.WriteFile(name, raw, 0644); err != nil {
		s.log.Warn("failed to write snapshot backup", "path", name, "error", err)
		return
	}

	backups := s.Backups()
	for i := s.retention; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			s.log.Warn("failed to prune backup", "path", backups[i], "error", err)
		}
	}
}

// Backups returns existing backup paths, newest first.
func (s *Snapshotter) Backups() []string {
	dir := filepath.Dir(s.base)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	prefix := s.backupPrefix()
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	// Timestamps sort lexicographically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups
}

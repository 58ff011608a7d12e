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
Write-Ahead Log (WAL) Implementation
=====================================

The WAL provides durability for DriftDB by persisting every mutation to disk
before the in-memory store is updated. Committed data survives crashes and
restarts.

How the WAL Works:
==================

 1. Before any mutation (put/del/clr/ttl), the operation is appended to the WAL
 2. The WAL is an append-only file - records are never modified in place
 3. On startup, the WAL is replayed on top of the snapshot to rebuild state
 4. Compaction writes a fresh snapshot and truncates the WAL

WAL Record Format:
==================

One record per line. Each line is a self-describing JSON object:

	{"op":"put","k":"user:alice","v":{"name":"Alice"}}
	{"op":"ttl","k":"session:9","exp":1754000000000}
	{"op":"del","k":"user:alice"}
	{"op":"clr"}

	- op:  operation type (put, del, clr, ttl)
	- k:   the key (absent for clr)
	- v:   the value (put only)
	- exp: absolute expiry in milliseconds since epoch (ttl only)

Example WAL Contents:
=====================

	Record 1: {"op":"put","k":"a","v":1}
	Record 2: {"op":"put","k":"b","v":2}
	Record 3: {"op":"del","k":"a"}
	Record 4: {"op":"put","k":"a","v":3}

After replay, "a" holds 3 and "b" holds 2.

Crash Tolerance:
================

A crash can leave a truncated trailing line (a partial append). Replay skips
any line that does not parse as a record and keeps the well-formed prefix, so
a torn tail never poisons recovery.

Durability:
===========

Append fsyncs before returning. A mutation is only acknowledged to its caller
once its record is on stable storage.
*/
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Op identifies a WAL operation type.
type Op string

const (
	// OpPut records a key/value write.
	OpPut Op = "put"

	// OpDelete records a key removal.
	OpDelete Op = "del"

	// OpClear records a full store reset. Records preceding a clr have no
	// net effect after replay.
	OpClear Op = "clr"

	// OpTTL records an absolute expiry for a key.
	OpTTL Op = "ttl"
)

// Record is a single WAL entry.
type Record struct {
	Op  Op          `json:"op"`
	K   string      `json:"k,omitempty"`
	V   interface{} `json:"v,omitempty"`
	Exp int64       `json:"exp,omitempty"`
}

// ErrClosed is returned when appending to a closed WAL.
var ErrClosed = errors.New("wal: closed")

// maxLineSize bounds a single WAL line during replay (16 MiB).
const maxLineSize = 16 << 20

// wrapPathError wraps a path-related error with helpful context.
func wrapPathError(err error, path string, operation string) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("permission denied: cannot %s '%s'. "+
			"Try a writable data directory (driftdb --data-dir ./data) or fix "+
			"ownership: sudo mkdir -p %s && sudo chown $USER %s",
			operation, path, filepath.Dir(path), filepath.Dir(path))
	}
	return fmt.Errorf("failed to %s '%s': %w", operation, path, err)
}

// WAL is an append-only, line-oriented operation log.
//
// Thread Safety: all methods are safe for concurrent use, though the engine
// serialises appends through its writer critical section anyway.
type WAL struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenWAL opens or creates the WAL at path for appending.
func OpenWAL(path string) (*WAL, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, wrapPathError(err, dir, "create directory")
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, wrapPathError(err, path, "open WAL file")
	}
	return &WAL{path: path, file: f}, nil
}

// Append writes a record as one JSON line and fsyncs it. The record is
// durable once Append returns nil.
func (w *WAL) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode WAL record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

// Replay reads the log from the beginning and invokes fn for each
// well-formed record. Malformed lines (including a truncated tail from a
// crash) are skipped; their count is returned so the caller can log a
// recovery warning. A missing WAL file replays zero records.
func (w *WAL) Replay(fn func(rec Record)) (skipped int, err error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, wrapPathError(err, w.path, "open WAL file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if jerr := json.Unmarshal(line, &rec); jerr != nil || !validOp(rec.Op) {
			skipped++
			continue
		}
		fn(rec)
	}
	return skipped, scanner.Err()
}

func validOp(op Op) bool {
	switch op {
	case OpPut, OpDelete, OpClear, OpTTL:
		return true
	}
	return false
}

// Truncate discards all records and reopens the log for appending. It is
// called during compaction, after the snapshot rename, while the engine
// holds the writer critical section so no append can interleave.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
	}
	if err := os.Truncate(w.path, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return wrapPathError(err, w.path, "reopen WAL file")
	}
	w.file = f
	return nil
}

// Size returns the WAL file size in bytes.
func (w *WAL) Size() (int64, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the underlying file. Further appends fail with ErrClosed.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

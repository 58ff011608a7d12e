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

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// capture redirects global logger output for the duration of a test.
func capture(t *testing.T, level Level, jsonMode bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	SetGlobalLevel(level)
	SetJSONMode(jsonMode)
	t.Cleanup(func() {
		SetGlobalOutput(os.Stdout)
		SetGlobalLevel(INFO)
		SetJSONMode(false)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, WARN, false)
	log := NewLogger("storage")

	log.Debug("not shown")
	log.Info("not shown either")
	log.Warn("shown")
	log.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("suppressed levels leaked:\n%s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "also shown") {
		t.Errorf("expected WARN and ERROR lines:\n%s", out)
	}
}

func TestTextFormat(t *testing.T) {
	buf := capture(t, DEBUG, false)
	NewLogger("engine").Info("snapshot written", "keys", 42, "path", "/tmp/drift.json")

	out := buf.String()
	for _, want := range []string{"[engine]", "snapshot written", "keys=42", "path=/tmp/drift.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, DEBUG, true)
	NewLogger("replication").Warn("follower down", "follower", "10.0.0.2:8844", "fails", 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["level"] != "WARN" || entry["component"] != "replication" {
		t.Errorf("unexpected entry: %v", entry)
	}
	fields := entry["fields"].(map[string]interface{})
	if fields["fails"] != float64(3) {
		t.Errorf("fields=%v", fields)
	}
}

func TestWithFields(t *testing.T) {
	buf := capture(t, DEBUG, false)
	NewLogger("replication").With("node", "n1").Info("started", "followers", 2)

	out := buf.String()
	if !strings.Contains(out, "node=n1") || !strings.Contains(out, "followers=2") {
		t.Errorf("persistent fields missing:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DEBUG, "INFO": INFO, "warning": WARN, "error": ERROR, "nonsense": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

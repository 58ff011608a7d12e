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

package replication

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"driftdb/internal/config"
	"driftdb/internal/engine"
	"driftdb/internal/errors"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.SaveIntervalSecs = 3600
	cfg.SyncIntervalSecs = 3600
	e := engine.New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func newReplica(t *testing.T) (*engine.Engine, *Replicator) {
	t.Helper()
	e := newTestEngine(t)
	r := New(e, Options{Role: RoleReplica, NodeID: "replica-1"})
	r.Start()
	t.Cleanup(r.Stop)
	return e, r
}

func TestReplicaRejectsLocalWrites(t *testing.T) {
	e, _ := newReplica(t)
	if err := e.Set("x", 1); !errors.IsCategory(err, errors.CategoryConstraintViolation) {
		t.Errorf("expected ConstraintViolation, got %v", err)
	}
	if _, err := e.Delete("x"); !errors.IsCategory(err, errors.CategoryConstraintViolation) {
		t.Errorf("expected ConstraintViolation on delete, got %v", err)
	}
	// System writes still land.
	if err := e.SystemSet("_local_state", "v"); err != nil {
		t.Errorf("system write rejected: %v", err)
	}
}

func TestApplyOpBasics(t *testing.T) {
	e, r := newReplica(t)

	if err := r.ApplyOp(Op{Op: "put", Key: "x", Value: float64(1), TS: 5000, NodeID: "primary"}); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}
	v, ok, _ := e.Get("x")
	if !ok || v != float64(1) {
		t.Errorf("x=%v ok=%v", v, ok)
	}

	if err := r.ApplyOp(Op{Op: "del", Key: "x", TS: 6000, NodeID: "primary"}); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if has, _ := e.Has("x"); has {
		t.Error("delete not applied")
	}

	if err := r.ApplyOp(Op{Op: "bogus", Key: "x", TS: 1}); err == nil {
		t.Error("unknown op accepted")
	}
}

func TestApplyOpRejectsInternalKeys(t *testing.T) {
	_, r := newReplica(t)
	err := r.ApplyOp(Op{Op: "put", Key: "_secrets", Value: "v", TS: 1, NodeID: "p"})
	if !errors.IsCategory(err, errors.CategoryConstraintViolation) {
		t.Errorf("internal key accepted over replication: %v", err)
	}
}

// Replica conflict, remote wins: a newer local write loses to the primary
// and the conflict is logged with strategy lww_remote.
func TestConflictRemoteWins(t *testing.T) {
	e, r := newReplica(t)

	// Local write lands now (wall clock), so its conflict clock exceeds
	// the primary's old broadcast timestamp below.
	if err := e.SystemSet("x", float64(2)); err != nil {
		t.Fatalf("local write failed: %v", err)
	}

	if err := r.ApplyOp(Op{Op: "put", Key: "x", Value: float64(3), TS: 110, NodeID: "primary"}); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}

	v, _, _ := e.Get("x")
	if v != float64(3) {
		t.Errorf("expected remote value 3, got %v", v)
	}
	log := r.ConflictLog()
	if len(log) != 1 {
		t.Fatalf("expected 1 conflict entry, got %d", len(log))
	}
	entry := log[0].(map[string]interface{})
	if entry["strategy"] != "lww_remote" || entry["key"] != "x" {
		t.Errorf("unexpected conflict entry: %v", entry)
	}
}

func TestConflictCustomResolver(t *testing.T) {
	e := newTestEngine(t)
	r := New(e, Options{
		Role:   RoleReplica,
		NodeID: "replica-1",
		OnConflict: func(local, remote interface{}, op Op) interface{} {
			// Keep whichever is larger.
			lf, _ := local.(float64)
			rf, _ := remote.(float64)
			if lf > rf {
				return lf
			}
			return rf
		},
	})
	r.Start()
	t.Cleanup(r.Stop)

	e.SystemSet("x", float64(9))
	if err := r.ApplyOp(Op{Op: "put", Key: "x", Value: float64(3), TS: 50, NodeID: "p"}); err != nil {
		t.Fatalf("ApplyOp failed: %v", err)
	}
	v, _, _ := e.Get("x")
	if v != float64(9) {
		t.Errorf("custom resolver ignored: %v", v)
	}
	log := r.ConflictLog()
	if len(log) != 1 || log[0].(map[string]interface{})["strategy"] != "custom" {
		t.Errorf("unexpected conflict log: %v", log)
	}
}

// Idempotence: applying the same op twice yields the same state and no
// spurious conflict entries.
func TestApplyOpIdempotent(t *testing.T) {
	e, r := newReplica(t)

	op := Op{Op: "put", Key: "y", Value: map[string]interface{}{"n": float64(7)}, TS: 4200, NodeID: "p"}
	if err := r.ApplyOp(op); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	first, _, _ := e.Get("y")
	if err := r.ApplyOp(op); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	second, _, _ := e.Get("y")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("state diverged: %v != %v", first, second)
	}
	if len(r.ConflictLog()) != 0 {
		t.Errorf("idempotent re-apply logged conflicts: %v", r.ConflictLog())
	}
}

func TestConflictLogIsBounded(t *testing.T) {
	e, r := newReplica(t)
	e.SystemSet("x", float64(0))
	for i := 0; i < conflictLogCap+20; i++ {
		// Each apply conflicts (TS far in the past) and then restamps the
		// clock, so re-set locally to keep conflicting.
		r.ApplyOp(Op{Op: "put", Key: "x", Value: float64(i), TS: int64(i + 1), NodeID: "p"})
		e.SystemSet("x", float64(i))
	}
	if n := len(r.ConflictLog()); n > conflictLogCap {
		t.Errorf("conflict log exceeded cap: %d", n)
	}
}

// End-to-end broadcast: a primary write reaches a follower's ApplyOp
// endpoint and the follower's health reflects the success.
func TestPrimaryBroadcast(t *testing.T) {
	replicaEng, replica := newReplica(t)

	follower := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != OpPath {
			http.NotFound(w, req)
			return
		}
		var op Op
		if err := json.NewDecoder(req.Body).Decode(&op); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := replica.ApplyOp(op); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(follower.Close)
	addr := strings.TrimPrefix(follower.URL, "http://")

	primaryEng := newTestEngine(t)
	primary := New(primaryEng, Options{
		Role:      RolePrimary,
		NodeID:    "primary-1",
		Followers: []string{addr},
		Heartbeat: time.Hour,
	})
	primary.Start()
	t.Cleanup(primary.Stop)

	if err := primaryEng.Set("greeting", "hello"); err != nil {
		t.Fatalf("primary write failed: %v", err)
	}
	// Internal keys never leave the node.
	if err := primaryEng.SystemSet("_private", "local"); err != nil {
		t.Fatalf("system write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok, _ := replicaEng.Get("greeting"); ok && v == "hello" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("broadcast did not reach the replica")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if has, _ := replicaEng.Has("_private"); has {
		t.Error("internal key was broadcast")
	}

	st := primary.Status()
	if len(st.Followers) != 1 || !st.Followers[0].Alive || st.Followers[0].Fails != 0 {
		t.Errorf("unexpected health: %+v", st.Followers)
	}
	if st.Role != RolePrimary || st.NodeID != "primary-1" {
		t.Errorf("unexpected status: %+v", st)
	}
}

// Follower failures are tracked in health and never propagate to the
// primary's write path.
func TestFollowerFailureDoesNotBlockWrites(t *testing.T) {
	primaryEng := newTestEngine(t)
	primary := New(primaryEng, Options{
		Role:      RolePrimary,
		NodeID:    "primary-1",
		Followers: []string{"127.0.0.1:1"}, // nothing listens here
		Heartbeat: time.Hour,
	})
	primary.Start()
	t.Cleanup(primary.Stop)

	for i := 0; i < downAfterFails; i++ {
		if err := primaryEng.Set("k", float64(i)); err != nil {
			t.Fatalf("write %d blocked by dead follower: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st := primary.Status()
		if len(st.Followers) == 1 && st.Followers[0].Fails >= downAfterFails && !st.Followers[0].Alive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follower never marked down: %+v", primary.Status().Followers)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNodeIDGenerated(t *testing.T) {
	e := newTestEngine(t)
	r := New(e, Options{Role: RoleStandalone})
	if r.NodeID() == "" {
		t.Error("expected a generated node id")
	}
}

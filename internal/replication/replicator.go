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
Package replication fans DriftDB mutations out to follower nodes.

Replication Overview:
=====================

DriftDB replicates with an explicit primary and eventually consistent
followers:

  Primary:
    - Accepts all writes locally
    - Broadcasts every durable non-internal mutation as
      {op, key, value?, ts, nodeId} to each follower over HTTP
    - Tracks follower health and heartbeats them periodically

  Replica:
    - Rejects writes through its public API
    - Applies inbound ops through ApplyOp, with last-writer-wins conflict
      resolution (remote preferred; the primary is the source of truth)
    - Appends every resolved conflict to a bounded conflict log stored
      under an internal key

Ordering:
=========

The engine invokes the broadcast hook inside its writer critical section,
so ops enter the queue in exactly WAL order. A single broadcaster goroutine
drains the queue, which preserves that order per follower. The hook only
enqueues; the write path never waits on the network.

Failure Handling:
=================

A follower that misses a broadcast is marked unhealthy but the op is not
retried; buffered replay is intentionally out of scope. Operators resync a
stale follower by reseeding it from a snapshot copy.

Keys with the "_" prefix are node-local: never broadcast, never accepted
inbound.
*/
package replication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"driftdb/internal/engine"
	"driftdb/internal/errors"
	"driftdb/internal/logging"
	"driftdb/internal/storage"
)

// Role names a node's replication role.
type Role string

const (
	RoleStandalone Role = "standalone"
	RolePrimary    Role = "primary"
	RoleReplica    Role = "replica"
)

// Wire paths of the replication surface.
const (
	OpPath   = "/replication/op"
	PingPath = "/replication/ping"
)

const (
	// requestTimeout bounds each broadcast and heartbeat request.
	requestTimeout = 5 * time.Second

	// downAfterFails marks a follower down after this many consecutive
	// failures.
	downAfterFails = 3

	// queueCapacity bounds the broadcast queue. Ops beyond it are dropped
	// (and followers resynced by operators), never blocking the writer.
	queueCapacity = 4096

	// conflictLogKey is the internal store key holding the conflict log.
	conflictLogKey = "_repl_conflicts"

	// conflictLogCap bounds the conflict log to the most recent entries.
	conflictLogCap = 100
)

// Op is the replication wire format.
type Op struct {
	Op     string      `json:"op"` // put, del, clr
	Key    string      `json:"key,omitempty"`
	Value  interface{} `json:"value,omitempty"`
	TS     int64       `json:"ts"`
	NodeID string      `json:"nodeId"`
}

// Ping is the heartbeat wire format.
type Ping struct {
	NodeID string `json:"nodeId"`
	TS     int64  `json:"ts"`
}

// ConflictFunc resolves a replica conflict; its return value is stored.
type ConflictFunc func(local, remote interface{}, op Op) interface{}

// Options configures a Replicator.
type Options struct {
	Role       Role
	NodeID     string // empty = random UUID
	Followers  []string
	Heartbeat  time.Duration
	OnConflict ConflictFunc
}

// Replicator is the replication controller for one engine.
type Replicator struct {
	eng  *engine.Engine
	role Role
	id   string
	log  *logging.Logger

	followers  []string
	health     *xsync.MapOf[string, *FollowerHealth]
	queue      chan Op
	dropped    *xsync.Counter
	client     *http.Client
	heartbeat  time.Duration
	onConflict ConflictFunc

	// lastWrite tracks the most recent write timestamp per key on a
	// replica, for conflict detection.
	lastWrite *xsync.MapOf[string, int64]

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Replicator over eng.
func New(eng *engine.Engine, opts Options) *Replicator {
	id := opts.NodeID
	if id == "" {
		id = uuid.NewString()
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = 10 * time.Second
	}
	return &Replicator{
		eng:        eng,
		role:       opts.Role,
		id:         id,
		log:        logging.NewLogger("replication").With("node", id),
		followers:  opts.Followers,
		health:     xsync.NewMapOf[string, *FollowerHealth](),
		queue:      make(chan Op, queueCapacity),
		dropped:    xsync.NewCounter(),
		client:     &http.Client{Timeout: requestTimeout},
		heartbeat:  hb,
		onConflict: opts.OnConflict,
		lastWrite:  xsync.NewMapOf[string, int64](),
		stop:       make(chan struct{}),
	}
}

// Role returns the node's replication role.
func (r *Replicator) Role() Role { return r.role }

// NodeID returns the node's identity carried on every broadcast.
func (r *Replicator) NodeID() string { return r.id }

// Start wires the replicator into the engine. On the primary it installs
// the broadcast hook and begins draining the queue and heartbeating; on a
// replica it flips the engine read-only and begins tracking local write
// timestamps for conflict detection.
func (r *Replicator) Start() {
	r.startOnce.Do(func() {
		switch r.role {
		case RolePrimary:
			for _, addr := range r.followers {
				r.health.Store(addr, &FollowerHealth{Addr: addr, Alive: true})
			}
			r.eng.SetBroadcast(r.enqueue)
			r.wg.Add(2)
			go r.broadcastLoop()
			go r.heartbeatLoop()
			r.log.Info("replication primary started", "followers", len(r.followers))
		case RoleReplica:
			r.eng.SetReadOnly(true)
			// Every local (system) write stamps the conflict clock; an
			// inbound apply overrides the stamp with the op timestamp
			// afterwards, which keeps re-applied ops idempotent.
			r.eng.On(engine.EventSet, func(ev engine.Event) {
				r.lastWrite.Store(ev.Key, time.Now().UnixMilli())
			})
			r.eng.On(engine.EventDelete, func(ev engine.Event) {
				r.lastWrite.Store(ev.Key, time.Now().UnixMilli())
			})
			r.log.Info("replication replica started")
		}
	})
}

// Stop halts the background loops. Queued ops not yet sent are dropped,
// consistent with the no-buffered-replay policy.
func (r *Replicator) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()
	})
}

// enqueue is the engine broadcast hook. It runs inside the writer critical
// section and must not block: a full queue drops the op and lets health
// accounting surface the lag.
func (r *Replicator) enqueue(op storage.Op, key string, value interface{}) {
	wire := Op{TS: time.Now().UnixMilli(), NodeID: r.id}
	switch op {
	case storage.OpPut:
		wire.Op, wire.Key, wire.Value = "put", key, value
	case storage.OpDelete:
		wire.Op, wire.Key = "del", key
	case storage.OpClear:
		wire.Op = "clr"
	default:
		return // ttl records stay node-local; followers expire on their own writes
	}

	select {
	case r.queue <- wire:
	default:
		r.dropped.Inc()
		r.log.Warn("broadcast queue full, dropping op", "op", wire.Op, "key", key)
	}
}

// broadcastLoop drains the queue, sending each op to every follower in
// order with a bounded per-request timeout.
func (r *Replicator) broadcastLoop() {
	defer r.wg.Done()
	for {
		select {
		case op := <-r.queue:
			for _, addr := range r.followers {
				r.send(addr, op)
			}
		case <-r.stop:
			return
		}
	}
}

func (r *Replicator) send(addr string, op Op) {
	body, err := json.Marshal(op)
	if err != nil {
		r.log.Error("failed to encode op", "error", err)
		return
	}
	resp, err := r.client.Post("http://"+addr+OpPath, "application/json", bytes.NewReader(body))
	if err != nil {
		r.markFailed(addr, err.Error())
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.markFailed(addr, fmt.Sprintf("status %d", resp.StatusCode))
		return
	}
	r.markAlive(addr, time.Now().UnixMilli()-op.TS)
}

// heartbeatLoop pings each follower every heartbeat interval.
func (r *Replicator) heartbeatLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, addr := range r.followers {
				r.ping(addr)
			}
		case <-r.stop:
			return
		}
	}
}

func (r *Replicator) ping(addr string) {
	sent := time.Now()
	body, _ := json.Marshal(Ping{NodeID: r.id, TS: sent.UnixMilli()})
	resp, err := r.client.Post("http://"+addr+PingPath, "application/json", bytes.NewReader(body))
	if err != nil {
		r.markFailed(addr, err.Error())
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.markFailed(addr, fmt.Sprintf("status %d", resp.StatusCode))
		return
	}
	r.markAlive(addr, time.Since(sent).Milliseconds())
}

// ApplyOp applies an inbound replicated op on a replica, with conflict
// detection against the local write clock. It is idempotent: re-applying
// an op compares equal timestamps, which is not a conflict, and rewrites
// the same value.
func (r *Replicator) ApplyOp(op Op) error {
	if r.role != RoleReplica {
		return errors.New(errors.CategoryConstraintViolation, errors.CodeBadReplicationOp,
			"node is not a replica")
	}
	if op.Key != "" && engine.IsInternalKey(op.Key) {
		return errors.New(errors.CategoryConstraintViolation, errors.CodeReservedKey,
			"replication channel rejects internal key '%s'", op.Key)
	}

	switch op.Op {
	case "put":
		value := op.Value
		if localTS, ok := r.lastWrite.Load(op.Key); ok && localTS > op.TS {
			value = r.resolveConflict(op, localTS)
		}
		if err := r.eng.ApplyReplicatedPut(op.Key, value); err != nil {
			return err
		}
		r.lastWrite.Store(op.Key, op.TS)
		return nil
	case "del":
		if _, err := r.eng.ApplyReplicatedDelete(op.Key); err != nil {
			return err
		}
		r.lastWrite.Store(op.Key, op.TS)
		return nil
	case "clr":
		if err := r.eng.ApplyReplicatedClear(); err != nil {
			return err
		}
		r.lastWrite.Clear()
		return nil
	}
	return errors.New(errors.CategoryReplication, errors.CodeBadReplicationOp,
		"unknown replication op '%s'", op.Op)
}

// resolveConflict picks the winning value for a conflicting put and
// appends a conflict log entry. The default policy is last-writer-wins
// with the remote preferred; a configured ConflictFunc overrides it.
func (r *Replicator) resolveConflict(op Op, localTS int64) interface{} {
	local, _, _ := r.eng.Get(op.Key)

	strategy := "lww_remote"
	value := op.Value
	if r.onConflict != nil {
		strategy = "custom"
		value = r.onConflict(local, op.Value, op)
	}

	r.appendConflict(map[string]interface{}{
		"key":      op.Key,
		"localTs":  localTS,
		"remoteTs": op.TS,
		"nodeId":   op.NodeID,
		"strategy": strategy,
		"at":       time.Now().UnixMilli(),
	})
	r.log.Warn("replication conflict resolved", "key", op.Key, "strategy", strategy)
	return value
}

// appendConflict pushes an entry onto the bounded conflict log.
func (r *Replicator) appendConflict(entry map[string]interface{}) {
	current, _, _ := r.eng.Get(conflictLogKey)
	log, _ := current.([]interface{})
	log = append(log, entry)
	if len(log) > conflictLogCap {
		log = log[len(log)-conflictLogCap:]
	}
	if err := r.eng.SystemSet(conflictLogKey, log); err != nil {
		r.log.Error("failed to persist conflict log", "error", err)
	}
}

// ConflictLog returns the persisted conflict entries, oldest first.
func (r *Replicator) ConflictLog() []interface{} {
	current, _, _ := r.eng.Get(conflictLogKey)
	log, _ := current.([]interface{})
	return log
}

// Status is the replication status surface.
type Status struct {
	Role      Role             `json:"role"`
	NodeID    string           `json:"nodeId"`
	Followers []FollowerHealth `json:"followers,omitempty"`
	Dropped   int64            `json:"dropped,omitempty"`
	Conflicts int              `json:"conflicts,omitempty"`
}

// Status snapshots role, identity, follower health and conflict count.
func (r *Replicator) Status() Status {
	st := Status{
		Role:    r.role,
		NodeID:  r.id,
		Dropped: r.dropped.Value(),
	}
	r.health.Range(func(_ string, h *FollowerHealth) bool {
		st.Followers = append(st.Followers, *h)
		return true
	})
	if r.role == RoleReplica {
		st.Conflicts = len(r.ConflictLog())
	}
	return st
}

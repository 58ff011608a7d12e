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

import "time"

// FollowerHealth is one follower's health record. Records are replaced
// wholesale in the health map, never mutated in place, so the status
// surface reads them without locking.
type FollowerHealth struct {
	Addr     string `json:"addr"`
	Alive    bool   `json:"alive"`
	Fails    int    `json:"fails"`
	LastPing int64  `json:"lastPing"` // ms since epoch of the last success
	LagMS    int64  `json:"lagMs"`    // observed broadcast or ping latency
	LastErr  string `json:"lastErr,omitempty"`
}

// markAlive records a successful request to addr.
func (r *Replicator) markAlive(addr string, lagMS int64) {
	r.health.Store(addr, &FollowerHealth{
		Addr:     addr,
		Alive:    true,
		LastPing: time.Now().UnixMilli(),
		LagMS:    lagMS,
	})
}

// markFailed records a failed request; enough consecutive failures mark
// the follower down. Timeouts count the same as network failures.
func (r *Replicator) markFailed(addr, reason string) {
	prev, _ := r.health.Load(addr)
	fails := 1
	lastPing := int64(0)
	if prev != nil {
		fails = prev.Fails + 1
		lastPing = prev.LastPing
	}
	h := &FollowerHealth{
		Addr:     addr,
		Alive:    fails < downAfterFails,
		Fails:    fails,
		LastPing: lastPing,
		LastErr:  reason,
	}
	r.health.Store(addr, h)
	if !h.Alive && (prev == nil || prev.Alive) {
		r.log.Warn("follower marked down", "follower", addr, "fails", fails, "reason", reason)
	}
}

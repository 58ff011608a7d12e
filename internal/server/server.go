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
Package server is the REST/WebSocket boundary over the DriftDB engine.

The server is a thin adapter: every handler decodes the request, calls the
embedded API, and encodes the result. Authentication, authorisation and
row-level security are plugin concerns layered in front of it; handlers
assume post-authorised arguments.

Endpoints:
==========

	GET    /kv/{key}                read one key
	PUT    /kv/{key}                write one key (body: {"value":..., "ttlMs":...})
	DELETE /kv/{key}                delete one key
	GET    /keys                    all non-internal entries
	POST   /clear                   reset the store
	POST   /query                   where-query {field, op, value, sort?, limit?, skip?}
	GET    /indexes                 list indexes
	POST   /indexes                 create index {field, kind}
	DELETE /indexes/{field}         drop index
	POST   /collections/{name}/{op} collection operations
	GET    /stats                   engine counters
	GET    /status                  node + replication status
	GET    /metrics                 Prometheus text format
	POST   /replication/op          inbound replication (replica)
	POST   /replication/ping        heartbeat
	GET    /ws                      WebSocket event stream

The replication endpoints speak the wire protocol in the replication
package: a POSTed op object is acknowledged with 2xx once applied; any
other status is failure.
*/
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"driftdb/internal/collection"
	"driftdb/internal/config"
	"driftdb/internal/engine"
	"driftdb/internal/errors"
	"driftdb/internal/index"
	"driftdb/internal/logging"
	"driftdb/internal/metrics"
	"driftdb/internal/query"
	"driftdb/internal/replication"
)

// Server serves the REST and WebSocket surface for one engine.
type Server struct {
	cfg    *config.Config
	eng    *engine.Engine
	repl   *replication.Replicator
	runner *query.Runner
	coll   *metrics.Collector
	log    *logging.Logger

	collMu      sync.Mutex
	collections map[string]*collection.Collection

	httpServer *http.Server
}

// New assembles the server over an initialised engine and its replicator.
func New(cfg *config.Config, eng *engine.Engine, repl *replication.Replicator) *Server {
	s := &Server{
		cfg:         cfg,
		eng:         eng,
		repl:        repl,
		runner:      query.NewRunner(eng),
		coll:        metrics.NewCollector(eng),
		log:         logging.NewLogger("server"),
		collections: make(map[string]*collection.Collection),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /kv/{key}", s.handleGet)
	mux.HandleFunc("PUT /kv/{key}", s.handlePut)
	mux.HandleFunc("DELETE /kv/{key}", s.handleDelete)
	mux.HandleFunc("GET /keys", s.handleKeys)
	mux.HandleFunc("POST /clear", s.handleClear)

	mux.HandleFunc("POST /query", s.handleQuery)

	mux.HandleFunc("GET /indexes", s.handleListIndexes)
	mux.HandleFunc("POST /indexes", s.handleCreateIndex)
	mux.HandleFunc("DELETE /indexes/{field}", s.handleDropIndex)

	mux.HandleFunc("POST /collections/{name}/{op}", s.handleCollection)

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST "+replication.OpPath, s.handleReplicationOp)
	mux.HandleFunc("POST "+replication.PingPath, s.handleReplicationPing)

	mux.Handle("GET /ws", s.websocketHandler())

	return mux
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("HTTP server listening", "addr", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ----------------------------------------------------------------------
// Encoding helpers
// ----------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps error categories onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CategoryOf(err) {
	case errors.CategoryNotReady:
		status = http.StatusServiceUnavailable
	case errors.CategoryValidation:
		status = http.StatusBadRequest
	case errors.CategoryConstraintViolation:
		status = http.StatusConflict
	case errors.CategoryNotFound:
		status = http.StatusNotFound
	case errors.CategoryDurability, errors.CategoryCorruption:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ----------------------------------------------------------------------
// Store handlers
// ----------------------------------------------------------------------

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, ok, err := s.eng.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

type putRequest struct {
	Value interface{} `json:"value"`
	TTLMs int64       `json:"ttlMs,omitempty"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body: " + err.Error()})
		return
	}
	var opts []engine.SetOption
	if req.TTLMs != 0 {
		opts = append(opts, engine.WithTTL(time.Duration(req.TTLMs)*time.Millisecond))
	}
	if err := s.eng.Set(key, req.Value, opts...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	removed, err := s.eng.Delete(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": removed})
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	all, err := s.eng.All()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]interface{}, len(all))
	for key, value := range all {
		if !engine.IsInternalKey(key) {
			out[key] = value
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----------------------------------------------------------------------
// Query handlers
// ----------------------------------------------------------------------

type queryRequest struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
	Sort  string      `json:"sort,omitempty"`
	Dir   string      `json:"dir,omitempty"`
	Limit int         `json:"limit,omitempty"`
	Skip  int         `json:"skip,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body: " + err.Error()})
		return
	}
	res, err := s.runner.Where(req.Field, req.Op, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Sort != "" {
		res = res.Sort(req.Sort, req.Dir)
	}
	if req.Skip > 0 {
		res = res.Skip(req.Skip)
	}
	if req.Limit > 0 {
		res = res.Limit(req.Limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   res.Count(),
		"matches": res.Matches(),
	})
}

// ----------------------------------------------------------------------
// Index handlers
// ----------------------------------------------------------------------

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.ListIndexes())
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field string `json:"field"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body: " + err.Error()})
		return
	}
	if err := s.eng.CreateIndex(r.Context(), req.Field, index.Kind(req.Kind)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	field := r.PathValue("field")
	if !s.eng.DropIndex(field) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no index on '" + field + "'"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----------------------------------------------------------------------
// Status handlers
// ----------------------------------------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":       s.eng.Stats(),
		"replication": s.repl.Status(),
		"indexes":     s.eng.ListIndexes(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.coll.WritePrometheus(w)
}

// ----------------------------------------------------------------------
// Replication handlers
// ----------------------------------------------------------------------

func (s *Server) handleReplicationOp(w http.ResponseWriter, r *http.Request) {
	var op replication.Op
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed op: " + err.Error()})
		return
	}
	if err := s.repl.ApplyOp(op); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (s *Server) handleReplicationPing(w http.ResponseWriter, r *http.Request) {
	var ping replication.Ping
	if err := json.NewDecoder(r.Body).Decode(&ping); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed ping: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, replication.Ping{
		NodeID: s.repl.NodeID(),
		TS:     time.Now().UnixMilli(),
	})
}

// ----------------------------------------------------------------------
// Collection handlers
// ----------------------------------------------------------------------

type collectionRequest struct {
	Doc    collection.Document   `json:"doc,omitempty"`
	Docs   []collection.Document `json:"docs,omitempty"`
	Query  collection.Document   `json:"query,omitempty"`
	Patch  collection.Document   `json:"patch,omitempty"`
	Schema collection.Schema     `json:"schema,omitempty"`
}

// getCollection returns the cached collection handle for name, so schemas
// and id counters survive across requests.
func (s *Server) getCollection(name string) (*collection.Collection, error) {
	s.collMu.Lock()
	defer s.collMu.Unlock()
	if coll, ok := s.collections[name]; ok {
		return coll, nil
	}
	coll, err := collection.New(name, s.eng)
	if err != nil {
		return nil, err
	}
	s.collections[name] = coll
	return coll, nil
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	op := r.PathValue("op")

	coll, err := s.getCollection(name)
	if err != nil {
		writeError(w, err)
		return
	}

	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body: " + err.Error()})
		return
	}
	if req.Schema != nil {
		coll.Schema(req.Schema)
	}

	switch op {
	case "insert":
		id, err := coll.Insert(req.Doc)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"_id": id})
	case "insertMany":
		ids, err := coll.InsertMany(req.Docs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"_ids": ids})
	case "find":
		res, err := coll.Find(req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": res.Count(), "docs": res.Values()})
	case "findOne":
		doc, found, err := coll.FindOne(req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no matching document"})
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case "update":
		ok, err := coll.Update(req.Query, req.Patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"updated": ok})
	case "updateMany":
		n, err := coll.UpdateMany(req.Query, req.Patch)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"updated": n})
	case "remove":
		ok, err := coll.Remove(req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": ok})
	case "removeMany":
		n, err := coll.RemoveMany(req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	case "count":
		n, err := coll.Count(req.Query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	case "drop":
		n, err := coll.Drop()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"dropped": n})
	case "schema":
		// the schema was installed above; acknowledge
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection operation '" + op + "'"})
	}
}

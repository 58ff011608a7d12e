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

package server

import (
	"encoding/json"
	"net/http"

	"golang.org/x/net/websocket"

	"driftdb/internal/engine"
)

// wsEvent is the event frame pushed to WebSocket subscribers.
type wsEvent struct {
	Type  string      `json:"type"`
	Key   string      `json:"key,omitempty"`
	Value interface{} `json:"value,omitempty"`
	Old   interface{} `json:"old,omitempty"`
}

// websocketHandler bridges the engine event stream onto WebSocket clients.
// Each connection subscribes to set, delete and clear; events are buffered
// per connection and slow clients drop frames rather than stalling the
// writer path.
func (s *Server) websocketHandler() http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		frames := make(chan wsEvent, 256)

		forward := func(ev engine.Event) {
			frame := wsEvent{Type: string(ev.Type), Key: ev.Key, Value: ev.Value, Old: ev.Old}
			select {
			case frames <- frame:
			default: // drop for slow consumers
			}
		}

		setID, _ := s.eng.On(engine.EventSet, forward)
		delID, _ := s.eng.On(engine.EventDelete, forward)
		clrID, _ := s.eng.On(engine.EventClear, forward)
		defer func() {
			s.eng.Off(engine.EventSet, setID)
			s.eng.Off(engine.EventDelete, delID)
			s.eng.Off(engine.EventClear, clrID)
		}()

		// Reader goroutine: its only job is to notice the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			var discard string
			for {
				if err := websocket.Message.Receive(ws, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case frame := <-frames:
				data, err := json.Marshal(frame)
				if err != nil {
					continue
				}
				if err := websocket.Message.Send(ws, string(data)); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}

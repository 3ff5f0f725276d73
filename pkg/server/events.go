// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"

	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/types"
)

// Event names besides the progress stages.
const (
	EventResult = "result"
)

// EventHub fans turn progress out to SSE subscribers. Each conversation
// is one stream, subscribed with GET /v1/events?stream=<conversationID>.
type EventHub struct {
	srv *sse.Server
}

// NewEventHub creates a hub whose streams appear on first subscription.
func NewEventHub() *EventHub {
	srv := sse.New()
	srv.AutoStream = true
	srv.AutoReplay = false
	srv.Headers = map[string]string{"X-Accel-Buffering": "no"}
	return &EventHub{srv: srv}
}

// ServeHTTP subscribes the client to the stream named by ?stream=.
func (e *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.srv.ServeHTTP(w, r)
}

// Publish sends one progress event. It never blocks; events for streams
// without subscribers are dropped.
func (e *EventHub) Publish(ev types.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.srv.TryPublish(ev.ConversationID, &sse.Event{Event: []byte(ev.Stage), Data: data})
}

// PublishResult sends the final turn result.
func (e *EventHub) PublishResult(res *orchestration.TurnResult) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	e.srv.TryPublish(res.ConversationID, &sse.Event{Event: []byte(EventResult), Data: data})
}

// HasSubscribers reports whether the conversation's stream exists.
func (e *EventHub) HasSubscribers(conversationID string) bool {
	return e.srv.StreamExists(conversationID)
}

// Close ends every stream.
func (e *EventHub) Close() {
	e.srv.Close()
}

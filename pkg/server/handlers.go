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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/export"
	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/storage"
	"github.com/teradata-labs/weft/pkg/types"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error       string               `json:"error"`
	Suggestions []string             `json:"suggestions,omitempty"`
	Report      *fabric.SafetyReport `json:"report,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes.
func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var unknown *schemagraph.UnknownTableError
	var blocked *orchestration.BlockingSafetyIssueError
	var failed *orchestration.QueryError
	if errors.As(err, &failed) && failed.Suggestion != "" {
		body.Suggestions = []string{failed.Suggestion}
	}
	switch {
	case errors.As(err, &unknown):
		status = http.StatusNotFound
		body.Suggestions = unknown.Suggestions
	case errors.As(err, &blocked):
		status = http.StatusUnprocessableEntity
		body.Report = blocked.Report
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schemagraph.ErrNoPathFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, orchestration.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, orchestration.ErrConversationConflict):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		status = 499
	case errors.As(err, &failed):
		status = http.StatusUnprocessableEntity
	}
	if status >= 500 {
		h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, body)
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type turnRequest struct {
	DataSourceID string `json:"data_source_id"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
}

// handleTurn runs one turn. Progress goes to the conversation's SSE
// stream; a turn that failed still answers 200 with status "failed".
func (h *HTTPServer) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, r, badRequest("message is required"))
		return
	}
	if req.DataSourceID == "" {
		h.writeError(w, r, badRequest("data_source_id is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.TurnTimeout)
	defer cancel()
	conversationID := chi.URLParam(r, "conversationID")
	res, err := h.engine.RunTurn(ctx, orchestration.TurnRequest{
		ConversationID: conversationID,
		UserID:         req.UserID,
		DataSourceID:   req.DataSourceID,
		Message:        req.Message,
	}, func(ev types.ProgressEvent) { h.events.Publish(ev) })
	if res == nil {
		h.writeError(w, r, err)
		return
	}
	h.events.PublishResult(res)
	writeJSON(w, http.StatusOK, res)
}

// dataSourceView leaves out connection parameters, which may hold secrets.
type dataSourceView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         fabric.DBType `json:"type"`
	Description  string        `json:"description,omitempty"`
	AllowWrite   bool          `json:"allow_write"`
	SyncSchedule string        `json:"sync_schedule,omitempty"`
}

func (h *HTTPServer) handleListDataSources(w http.ResponseWriter, r *http.Request) {
	if h.sources == nil {
		writeJSON(w, http.StatusOK, []dataSourceView{})
		return
	}
	sources, err := h.sources.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]dataSourceView, len(sources))
	for i, ds := range sources {
		out[i] = dataSourceView{
			ID:           ds.ID,
			Name:         ds.Name,
			Type:         ds.Type,
			Description:  ds.Description,
			AllowWrite:   ds.AllowWrite,
			SyncSchedule: ds.SyncSchedule,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.engine.Discovery().ListEntities(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

func (h *HTTPServer) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	table, err := h.engine.Discovery().DescribeTable(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "table"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *HTTPServer) handleCompass(w http.ResponseWriter, r *http.Request) {
	edges, err := h.engine.Discovery().GetDatabaseCompass(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lines := make([]string, len(edges))
	for i, e := range edges {
		lines[i] = e.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"edges": edges, "lines": lines})
}

func (h *HTTPServer) handleJoinPath(w http.ResponseWriter, r *http.Request) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		h.writeError(w, r, badRequest("from and to are required"))
		return
	}
	path, err := h.engine.Discovery().FindJoinPath(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path})
}

func (h *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		h.writeError(w, r, badRequest("keyword is required"))
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}
	res, err := h.engine.Discovery().CrossEntitySearch(r.Context(), chi.URLParam(r, "id"), keyword, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type syncResponse struct {
	DataSourceID string    `json:"data_source_id"`
	Version      uint64    `json:"version"`
	BuiltAt      time.Time `json:"built_at"`
	Tables       int       `json:"tables"`
}

func (h *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.Resync(r.Context(), chi.URLParam(r, "id"))
	if err != nil && g == nil {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		// graph rebuilt, embedding index not refreshed
		h.logger.Warn("Resync finished with errors", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, syncResponse{
		DataSourceID: g.DataSourceID,
		Version:      g.Version,
		BuiltAt:      g.BuiltAt,
		Tables:       g.Len(),
	})
}

type queryRequest struct {
	Query          string `json:"query"`
	Index          string `json:"index,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// handleQuery runs a read-only query; ?format=xlsx returns a workbook.
func (h *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	executedAt := time.Now()
	res, err := h.engine.Execute(r.Context(), orchestration.ExecuteRequest{
		DataSourceID:   id,
		Query:          req.Query,
		Index:          req.Index,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") != "xlsx" {
		writeJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.xlsx"`, id, executedAt.Format("20060102-150405")))
	if err := export.WriteXLSX(w, res, export.Options{Query: req.Query, DataSourceID: id, ExecutedAt: executedAt}); err != nil {
		h.logger.Error("Failed to write workbook", zap.String("data_source_id", id), zap.Error(err))
	}
}

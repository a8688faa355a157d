// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/session"
	"github.com/ManuGH/distvote/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.opentelemetry.io/otel/trace"
)

// createRequest is the POST /sessions body. A client supplied id is ignored.
type createRequest struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Host    net.IP          `json:"host"`
	Port    int             `json:"port"`
	Options []string        `json:"options"`
	Status  session.Status  `json:"status,omitempty"`
}

// idsResponse is the GET /sessions/all body.
type idsResponse struct {
	Sessions []session.ID `json:"sessions"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, "pong")
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPIDocument)
}

// sessionID parses the {id} URL parameter and writes a 400 when it is malformed.
func sessionID(w http.ResponseWriter, r *http.Request) (session.ID, bool) {
	var raw string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &raw,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidID, "invalid format for parameter id: "+err.Error())
		return "", false
	}
	id, err := session.ParseID(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidID, err.Error())
		return "", false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(telemetry.SessionAttributes(string(id), "", 0)...)
	return id, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.List(r.Context())
	if err != nil {
		metrics.RecordSessionOp("list", writeStoreError(w, r, "list", err))
		return
	}
	metrics.RecordSessionOp("list", "success")
	metrics.SetSessionsActive(len(all))
	writeJSON(w, r, http.StatusOK, all)
}

func (s *Server) handleListSessionIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListIDs(r.Context())
	if err != nil {
		metrics.RecordSessionOp("list_ids", writeStoreError(w, r, "list_ids", err))
		return
	}
	metrics.RecordSessionOp("list_ids", "success")
	writeJSON(w, r, http.StatusOK, idsResponse{Sessions: ids})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		metrics.RecordSessionOp("get", writeStoreError(w, r, "get", err))
		return
	}
	metrics.RecordSessionOp("get", "success")
	writeJSON(w, r, http.StatusOK, sess)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		metrics.RecordSessionOp("create", "invalid")
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid session body: "+err.Error())
		return
	}

	created, err := s.store.Create(r.Context(), session.Session{
		Host:    req.Host,
		Port:    req.Port,
		Options: req.Options,
		Status:  req.Status,
	})
	if err != nil {
		metrics.RecordSessionOp("create", writeStoreError(w, r, "create", err))
		return
	}

	metrics.RecordSessionOp("create", "success")
	ctx := log.ContextWithSessionID(r.Context(), string(created.ID))
	logger := log.WithContext(ctx, log.WithComponent("registry"))
	logger.Info().
		Str(log.FieldEvent, "session.created").
		Str(log.FieldAddr, created.Addr()).
		Strs("options", created.Options).
		Msg("session created")

	w.Header().Set("Location", "/sessions/"+string(created.ID))
	writeJSON(w, r, http.StatusCreated, created.ID)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var patch session.Patch
	if err := decodeJSON(r, &patch); err != nil {
		metrics.RecordSessionOp("update", "invalid")
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "invalid patch body: "+err.Error())
		return
	}

	updated, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		metrics.RecordSessionOp("update", writeStoreError(w, r, "update", err))
		return
	}

	metrics.RecordSessionOp("update", "success")
	ctx := log.ContextWithSessionID(r.Context(), string(id))
	logger := log.WithContext(ctx, log.WithComponent("registry"))
	logger.Info().
		Str(log.FieldEvent, "session.updated").
		Str(log.FieldAddr, updated.Addr()).
		Str("status", string(updated.Status)).
		Msg("session updated")
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		metrics.RecordSessionOp("delete", writeStoreError(w, r, "delete", err))
		return
	}
	metrics.RecordSessionOp("delete", "success")
	w.WriteHeader(http.StatusNoContent)
}

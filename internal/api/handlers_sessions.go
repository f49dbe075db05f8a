// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/gridjam/internal/domain/session/engine"
	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/domain/session/registry"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/log"
)

// sessionUpsert is the create/update request body. Raw fields keep the
// distinction between absent and null.
type sessionUpsert struct {
	Name  json.RawMessage `json:"name"`
	State json.RawMessage `json:"state"`
}

type sessionRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *Server) sessionURL(id string) string {
	return s.cfg.PublicBaseURL + "/s/" + id
}

// requireSessionID rejects non-canonical session ids before any handler
// runs.
func (s *Server) requireSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.IsValidUUID(chi.URLParam(r, "id")) {
			writeErrorMsg(w, http.StatusBadRequest, "session id must be a canonical UUIDv4")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseName turns a raw name field into a replacement pointer: nil means
// "leave unchanged", a pointer to "" means "clear".
func parseName(w http.ResponseWriter, raw json.RawMessage) (*string, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "malformed name")
		return nil, false
	}
	name, ok := model.ValidateSessionName(v)
	if !ok {
		writeValidationErrors(w, "invalid session name", nil)
		return nil, false
	}
	return &name, true
}

// parseState validates a raw state document and materializes it over the
// defaults, repaired to the full invariants.
func parseState(w http.ResponseWriter, raw json.RawMessage) (*model.SessionState, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "malformed state")
		return nil, false
	}
	if errs := model.ValidateSessionState(v); len(errs) > 0 {
		writeValidationErrors(w, "invalid state", errs)
		return nil, false
	}
	state := model.DefaultState()
	if err := json.Unmarshal(raw, state); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "malformed state")
		return nil, false
	}
	model.RepairStateInvariants(state)
	return state, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionUpsert
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErrorMsg(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeErrorMsg(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	namePtr, ok := parseName(w, req.Name)
	if !ok {
		return
	}
	state := model.DefaultState()
	if len(req.State) > 0 {
		if state, ok = parseState(w, req.State); !ok {
			return
		}
	}

	now := model.NowMs()
	sess := model.NewSession(registry.NewSessionID(), now)
	sess.State = state
	if namePtr != nil {
		sess.Name = *namePtr
	}

	if err := s.store.Save(r.Context(), sess); err != nil {
		s.logger.Error().Err(err).Str(log.FieldSessionID, sess.ID).Msg("create session save failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to persist session")
		return
	}
	writeJSON(w, http.StatusCreated, sessionRef{ID: sess.ID, URL: s.sessionURL(sess.ID)})
}

// loadSession prefers the live engine's view over the durable copy.
func (s *Server) loadSession(r *http.Request, id string) (*model.Session, error) {
	if e, ok := s.reg.Peek(id); ok {
		sess, err := e.SessionSnapshot()
		if err == nil {
			return sess, nil
		}
		// Engine hibernated mid-request; fall through to the store.
	}
	return s.store.Load(r.Context(), id)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.loadSession(r, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w)
	case err != nil:
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("load session failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load session")
	default:
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sessionUpsert
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.State) == 0 {
		writeErrorMsg(w, http.StatusBadRequest, "state is required")
		return
	}
	namePtr, ok := parseName(w, req.Name)
	if !ok {
		return
	}
	state, ok := parseState(w, req.State)
	if !ok {
		return
	}

	// Hot path: replace through the engine so attached streams get a
	// state_sync in broadcast order.
	if e, hot := s.reg.Peek(id); hot {
		err := e.ReplaceState(state, namePtr)
		switch {
		case errors.Is(err, engine.ErrImmutable):
			writeErrorMsg(w, http.StatusConflict, "session is published")
			return
		case errors.Is(err, engine.ErrStopped):
			// Hibernated under us; continue on the cold path.
		case err != nil:
			s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("replace state failed")
			writeErrorMsg(w, http.StatusInternalServerError, "failed to update session")
			return
		default:
			sess, err := e.SessionSnapshot()
			if err == nil {
				writeJSON(w, http.StatusOK, sess)
				return
			}
		}
	}

	sess, err := s.store.Load(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w)
		return
	case err != nil:
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("load session failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess.Immutable {
		writeErrorMsg(w, http.StatusConflict, "session is published")
		return
	}
	sess.State = state
	if namePtr != nil {
		sess.Name = *namePtr
	}
	sess.Touch(model.NowMs())
	if err := s.store.Save(r.Context(), sess); err != nil {
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("save session failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to persist session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRemixSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	parent, err := s.loadSession(r, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w)
		return
	case err != nil:
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("load parent failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	now := model.NowMs()
	child := parent.Clone()
	child.ID = registry.NewSessionID()
	child.CreatedAt = now
	child.UpdatedAt = now
	child.LastAccessedAt = now
	child.Immutable = false
	child.RemixedFrom = parent.ID
	child.RemixedFromName = parent.Name
	child.RemixCount = 0

	if err := s.store.Save(r.Context(), child); err != nil {
		s.logger.Error().Err(err).Str(log.FieldSessionID, child.ID).Msg("save remix failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to persist remix")
		return
	}

	// Credit the parent. When hot, the engine owns the record; when cold,
	// bump the durable copy directly.
	if e, hot := s.reg.Peek(id); hot {
		if err := e.BumpRemixCount(); err == nil {
			writeJSON(w, http.StatusCreated, sessionRef{ID: child.ID, URL: s.sessionURL(child.ID)})
			return
		}
		// Hibernated; fall through.
	}
	parent.RemixCount++
	parent.Touch(now)
	if err := s.store.Save(r.Context(), parent); err != nil {
		// The remix itself succeeded; the dangling count is only cosmetic.
		s.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("remix count bump failed")
	}
	writeJSON(w, http.StatusCreated, sessionRef{ID: child.ID, URL: s.sessionURL(child.ID)})
}

func (s *Server) handlePublishSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if e, hot := s.reg.Peek(id); hot {
		already, err := e.Publish()
		switch {
		case errors.Is(err, engine.ErrStopped):
			// Hibernated; fall through to the cold path.
		case err != nil:
			s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("publish failed")
			writeErrorMsg(w, http.StatusInternalServerError, "failed to publish session")
			return
		case already:
			writeErrorMsg(w, http.StatusConflict, "session already published")
			return
		default:
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "immutable": true})
			return
		}
	}

	sess, err := s.store.Load(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w)
		return
	case err != nil:
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("load session failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess.Immutable {
		writeErrorMsg(w, http.StatusConflict, "session already published")
		return
	}
	sess.Immutable = true
	sess.Touch(model.NowMs())
	if err := s.store.Save(r.Context(), sess); err != nil {
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("save session failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to persist session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "immutable": true})
}

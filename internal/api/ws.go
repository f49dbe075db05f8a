// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/net/idna"

	"github.com/ManuGH/gridjam/internal/domain/session/engine"
	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/log"
	"github.com/ManuGH/gridjam/internal/metrics"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// normalizeHost lowercases and IDNA-normalizes a hostname, dropping any
// port. Unicode and punycode spellings of the same origin compare equal.
func normalizeHost(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return strings.ToLower(host)
	}
	return ascii
}

// checkOrigin admits browser upgrades from the configured allowlist, or
// same-origin when no allowlist is set. Requests without an Origin header
// (non-browser clients) pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	originHost := normalizeHost(u.Host)

	if len(s.cfg.API.AllowedOrigins) == 0 {
		return originHost == normalizeHost(r.Host)
	}
	for _, allowed := range s.cfg.API.AllowedOrigins {
		au, err := url.Parse(allowed)
		if err != nil || au.Host == "" {
			continue
		}
		if originHost == normalizeHost(au.Host) {
			return true
		}
	}
	return false
}

// sessionExists checks hot engines first, then the durable copy.
func (s *Server) sessionExists(r *http.Request, id string) (bool, error) {
	if _, hot := s.reg.Peek(id); hot {
		return true, nil
	}
	_, err := s.store.Load(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Existence is settled before the upgrade so unknown sessions get a
	// clean HTTP 404 instead of a mid-handshake close.
	exists, err := s.sessionExists(r, id)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldSessionID, id).Msg("existence check failed")
		writeErrorMsg(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if !exists {
		writeNotFound(w)
		return
	}

	playerID := r.URL.Query().Get("playerId")
	if !model.IsValidUUID(playerID) {
		playerID = uuid.NewString()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	conn.SetReadLimit(model.MaxMessageSize)

	eng, err := s.reg.Acquire(r.Context(), id)
	if err != nil {
		s.closeWith(conn, websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	stream, err := eng.Attach(playerID)
	if err != nil {
		if errors.Is(err, engine.ErrSessionFull) {
			s.closeWith(conn, websocket.CloseTryAgainLater, "session is full")
		} else {
			s.closeWith(conn, websocket.CloseInternalServerErr, "session unavailable")
		}
		return
	}

	s.logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldPlayerID, playerID).
		Str(log.FieldRemoteAddr, r.RemoteAddr).
		Msg("websocket attached")

	go s.writePump(conn, stream)
	s.readPump(conn, eng, playerID)
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// readPump owns the connection's read side. It exits on transport error or
// close, detaching the player; frame-level failures (parse, rate limit) are
// the engine's call.
func (s *Server) readPump(conn *websocket.Conn, eng *engine.Engine, playerID string) {
	defer func() {
		eng.Detach(playerID, "transport closed")
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				metrics.IncStreamClose(metrics.CloseReasonOversize)
			} else if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				metrics.IncStreamClose(metrics.CloseReasonTransport)
			}
			return
		}
		eng.Deliver(playerID, data)
	}
}

// writePump drains the engine's outbound stream into the socket and keeps
// the connection alive with pings. When the engine closes the stream (slow
// consumer, rate limit, shutdown) the socket is closed too.
func (s *Server) writePump(conn *websocket.Conn, stream *engine.Stream) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-stream.Out:
			if !ok {
				s.closeWith(conn, websocket.CloseNormalClosure, "stream closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

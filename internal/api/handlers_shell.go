// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/web"
)

// handleShell serves the SPA shell for /s/* routes. Social crawlers get the
// shell with session metadata injected; everyone else, and every unknown
// session, gets the plain document.
func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	if s.shell == nil {
		writeErrorMsg(w, http.StatusNotFound, "no web shell configured")
		return
	}
	doc := s.shell.Bytes()

	if web.IsSocialCrawler(r.UserAgent()) {
		if meta, ok := s.crawlerMeta(r); ok {
			doc = web.InjectMeta(doc, meta)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// crawlerMeta resolves preview metadata for the session named in the path.
func (s *Server) crawlerMeta(r *http.Request) (web.SessionMeta, bool) {
	// /s/<id> possibly with trailing segments from client-side routing.
	rest := strings.TrimPrefix(r.URL.Path, "/s/")
	id := strings.SplitN(rest, "/", 2)[0]
	if !model.IsValidUUID(id) {
		return web.SessionMeta{}, false
	}

	sess, err := s.loadSession(r, id)
	if err != nil {
		return web.SessionMeta{}, false
	}

	title := sess.Name
	if title == "" {
		title = "Untitled Jam"
	}
	desc := fmt.Sprintf("%d tracks at %d BPM", len(sess.State.Tracks), sess.State.Tempo)
	if sess.RemixedFromName != "" {
		desc += fmt.Sprintf(", remixed from %q", sess.RemixedFromName)
	}
	return web.SessionMeta{
		Title:       title,
		Description: desc,
		URL:         s.sessionURL(id),
	}, true
}

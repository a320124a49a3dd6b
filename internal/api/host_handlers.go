package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/bookmarks"
	"github.com/JakeFAU/bookmark-archiver/internal/browser"
)

type openTabRequest struct {
	URL        string `json:"url"`
	Background bool   `json:"background,omitempty"`
}

func (s *Server) openTab(w http.ResponseWriter, r *http.Request) {
	if s.tabs == nil {
		writeError(w, http.StatusServiceUnavailable, "tab host unavailable")
		return
	}
	var req openTabRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	tab, err := s.tabs.OpenTab(r.Context(), req.URL, req.Background)
	if err != nil {
		s.writeTabError(w, "open tab", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tab": tab})
}

func (s *Server) getTab(w http.ResponseWriter, r *http.Request) {
	if s.tabs == nil {
		writeError(w, http.StatusServiceUnavailable, "tab host unavailable")
		return
	}
	tab, err := s.tabs.Tab(r.Context(), chi.URLParam(r, "tab_id"))
	if err != nil {
		s.writeTabError(w, "get tab", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": tab})
}

func (s *Server) closeTab(w http.ResponseWriter, r *http.Request) {
	if s.tabs == nil {
		writeError(w, http.StatusServiceUnavailable, "tab host unavailable")
		return
	}
	if err := s.tabs.CloseTab(r.Context(), chi.URLParam(r, "tab_id")); err != nil {
		s.writeTabError(w, "close tab", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeTabError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, browser.ErrTabNotFound):
		writeError(w, http.StatusNotFound, "tab not found")
	case errors.Is(err, browser.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "tab host disabled")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// createBookmark handles POST /v1/bookmarks. The created event is queued for
// the reconciler before the response is written.
func (s *Server) createBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark tree unavailable")
		return
	}
	var req bookmarks.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	node, err := s.bookmarks.Create(r.Context(), req)
	if err != nil {
		s.writeBookmarkError(w, "create bookmark", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bookmark": node})
}

func (s *Server) getBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark tree unavailable")
		return
	}
	node, err := s.bookmarks.Get(r.Context(), chi.URLParam(r, "bookmark_id"))
	if err != nil {
		s.writeBookmarkError(w, "get bookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmark": node})
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark tree unavailable")
		return
	}
	children, err := s.bookmarks.Children(r.Context(), chi.URLParam(r, "bookmark_id"))
	if err != nil {
		s.writeBookmarkError(w, "list children", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"children": children})
}

func (s *Server) updateBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark tree unavailable")
		return
	}
	var req bookmarks.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	node, err := s.bookmarks.Update(r.Context(), chi.URLParam(r, "bookmark_id"), req)
	if err != nil {
		s.writeBookmarkError(w, "update bookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmark": node})
}

func (s *Server) moveBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark tree unavailable")
		return
	}
	var req bookmarks.MoveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ParentID == "" {
		writeError(w, http.StatusBadRequest, "parent_id required")
		return
	}
	node, err := s.bookmarks.Move(r.Context(), chi.URLParam(r, "bookmark_id"), req)
	if err != nil {
		s.writeBookmarkError(w, "move bookmark", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookmark": node})
}

func (s *Server) removeBookmark(w http.ResponseWriter, r *http.Request) {
	if s.bookmarks == nil {
		writeError(w, http.StatusServiceUnavailable, "bookmark tree unavailable")
		return
	}
	if _, err := s.bookmarks.Remove(r.Context(), chi.URLParam(r, "bookmark_id")); err != nil {
		s.writeBookmarkError(w, "remove bookmark", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeBookmarkError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, bookmarks.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bookmarks.ErrImmutable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bookmarks.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

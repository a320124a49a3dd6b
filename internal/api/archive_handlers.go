package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/archive"
	"github.com/JakeFAU/bookmark-archiver/internal/browser"
	"github.com/JakeFAU/bookmark-archiver/internal/capture"
	"github.com/JakeFAU/bookmark-archiver/internal/poll"
	"github.com/JakeFAU/bookmark-archiver/internal/progress/sinks"
	"github.com/JakeFAU/bookmark-archiver/internal/submit"
)

const storeTimeout = 3 * time.Second

type archiveOnlineRequest struct {
	URL      string   `json:"url"`
	Services []string `json:"services,omitempty"`
}

// archiveOnline handles POST /v1/archive/online. It returns 200 with one
// result per service (failures are reported per result), 400 for a missing
// or local URL, or 503 when the capture dispatcher is not wired.
func (s *Server) archiveOnline(w http.ResponseWriter, r *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture dispatcher unavailable")
		return
	}
	var req archiveOnlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	results, err := s.capture.SubmitRemote(r.Context(), req.URL, req.Services)
	if err != nil {
		if errors.Is(err, submit.ErrLocalURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("online archive failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": req.URL, "results": results})
}

type archiveLocalRequest struct {
	TabID string `json:"tab_id"`
}

// archiveLocal handles POST /v1/archive/local. It captures the tab and
// returns the snapshot as an attachment for the caller to save; nothing is
// recorded.
func (s *Server) archiveLocal(w http.ResponseWriter, r *http.Request) {
	if s.capture == nil {
		writeError(w, http.StatusServiceUnavailable, "capture dispatcher unavailable")
		return
	}
	var req archiveLocalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TabID == "" {
		writeError(w, http.StatusBadRequest, "tab_id required")
		return
	}
	snap, err := s.capture.CaptureLocal(r.Context(), capture.LocalRequest{TabID: req.TabID})
	if err != nil {
		status := captureStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("local capture failed", zap.String("tab_id", req.TabID), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", capture.SnapshotContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.Filename))
	w.Header().Set("X-Snapshot-Digest", snap.Digest)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(snap.Data); err != nil {
		s.logger.Warn("snapshot write failed", zap.Error(err))
	}
}

func captureStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrCaptureUnavailable), errors.Is(err, browser.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, browser.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, poll.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type recordDTO struct {
	archive.Record
	State archive.State `json:"state"`
}

// getRecord handles GET /v1/records?url=. An unknown URL answers 200 with
// state NO_ARCHIVE.
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	rec, err := s.store.Get(ctx, pageURL)
	if err != nil {
		s.logger.Error("get record failed", zap.String("url", pageURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": recordDTO{Record: rec, State: rec.State()}})
}

// getBadge handles GET /v1/badge?url=. URLs without a badge report the
// cleared badge.
func (s *Server) getBadge(w http.ResponseWriter, r *http.Request) {
	if s.badges == nil {
		writeError(w, http.StatusServiceUnavailable, "badges unavailable")
		return
	}
	pageURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	badge, ok := s.badges.Badge(pageURL)
	if !ok {
		badge = sinks.BadgeCleared
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": pageURL, "badge": badge})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	settings, err := s.store.Settings(ctx)
	if err != nil {
		s.logger.Error("load settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

type settingsRequest struct {
	ArchiveDir       *string   `json:"archiveDir,omitempty"`
	ArchiveServices  *[]string `json:"archiveServices,omitempty"`
	BookmarkServices *[]string `json:"bookmarkServices,omitempty"`
	ArchiveBookmarks *bool     `json:"archiveBookmarks,omitempty"`
	Email            *string   `json:"email,omitempty"`
}

// putSettings handles PUT /v1/settings. Fields left out keep their value.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	settings, err := s.store.Settings(ctx)
	if err != nil {
		s.logger.Error("load settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if req.ArchiveDir != nil {
		settings.ArchiveDir = strings.TrimSpace(*req.ArchiveDir)
	}
	if req.ArchiveServices != nil {
		settings.ArchiveServices = *req.ArchiveServices
	}
	if req.BookmarkServices != nil {
		settings.BookmarkServices = *req.BookmarkServices
	}
	if req.ArchiveBookmarks != nil {
		settings.ArchiveBookmarks = *req.ArchiveBookmarks
	}
	if req.Email != nil {
		settings.Email = strings.TrimSpace(*req.Email)
	}
	if err := s.validateServices(settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		s.logger.Error("save settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) validateServices(settings archive.Settings) error {
	if s.services == nil {
		return nil
	}
	known := make(map[string]bool)
	for _, name := range s.services.Services() {
		known[name] = true
	}
	for _, name := range settings.ArchiveServices {
		if !known[name] {
			return fmt.Errorf("unknown archive service %q", name)
		}
	}
	for _, name := range settings.BookmarkServices {
		if name != archive.LocalService && !known[name] {
			return fmt.Errorf("unknown bookmark service %q", name)
		}
	}
	return nil
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/courier/internal/dispatch"
	"github.com/mattjoyce/courier/internal/mail"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/store"
)

const maxPageSize = 100

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueSize:     s.queue.Len(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSend handles POST /api/v1/messages/send. The dispatch runs
// synchronously; the HTTP status mirrors the terminal outcome.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	result := s.engine.Dispatch(r.Context(), msg)
	s.writeJSON(w, statusCode(result.Status), result)
}

// handleQueue handles POST /api/v1/messages/queue. The message is validated
// and buffered; dispatch happens on the worker's next batch.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}

	if err := s.queue.Enqueue(msg); err != nil {
		if errors.Is(err, queue.ErrFull) {
			s.writeError(w, http.StatusServiceUnavailable, "queue is full, try again later")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to queue message")
		return
	}

	s.writeJSON(w, http.StatusAccepted, QueueAcceptedResponse{
		Queued:    true,
		QueueSize: s.queue.Len(),
		Message:   "message accepted for asynchronous delivery",
	})
}

// handleStatus handles GET /api/v1/messages/{messageID}/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")

	result, err := s.engine.StatusByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleList handles GET /api/v1/messages?status=&page=&size=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := store.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	page := parseIntParam(r.URL.Query().Get("page"), 0)
	size := parseIntParam(r.URL.Query().Get("size"), 10)
	if size > maxPageSize {
		size = maxPageSize
	}

	results, err := s.engine.List(r.Context(), status, page, size)
	if err != nil {
		s.logger.Error("list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if results == nil {
		results = []*dispatch.Result{}
	}

	s.writeJSON(w, http.StatusOK, ListResponse{
		Page:  page,
		Size:  size,
		Count: len(results),
		Items: results,
	})
}

// handleQueueStats handles GET /api/v1/queue/stats.
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "queue stats failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleRateLimit handles GET /api/v1/rate-limit/{sender}.
func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	sender := chi.URLParam(r, "sender")
	max, window := s.limiter.Limits()
	current := s.limiter.CurrentCount(sender)

	remaining := max - current
	if remaining < 0 {
		remaining = 0
	}

	s.writeJSON(w, http.StatusOK, RateLimitResponse{
		Sender:        sender,
		CurrentCount:  current,
		MaxRequests:   max,
		Remaining:     remaining,
		WindowSeconds: int64(window.Seconds()),
	})
}

// handleCircuitBreakers handles GET /api/v1/circuit-breakers.
func (s *Server) handleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.breakers.Snapshot())
}

// decodeMessage parses and validates the request body. On failure it writes
// the error response and returns ok=false.
func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (*mail.Message, bool) {
	var msg mail.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}

	if err := mail.Validate(&msg); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &msg, true
}

// statusCode maps a dispatch outcome onto an HTTP status.
func statusCode(st store.Status) int {
	switch st {
	case store.StatusSent:
		return http.StatusOK
	case store.StatusDuplicate:
		return http.StatusConflict
	case store.StatusRateLimited:
		return http.StatusTooManyRequests
	case store.StatusFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusAccepted
	}
}

func parseIntParam(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, ErrorResponse{Error: msg})
}

package internal

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const maxTopPages = 100

// response bodies are part of the public API, hence the capitalized messages
var (
	errMissingParams    = errors.New("Missing page or userId parameter")
	errExpectedUpgrade  = errors.New("Expected WebSocket upgrade")
	errTooManyAttempts  = errors.New("Too many connection attempts")
	errMissingPageParam = errors.New("Missing page parameter")
	errStatsUnavailable = errors.New("Stats unavailable")
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type indexResponse struct {
	Message     string            `json:"message"`
	Version     string            `json:"version"`
	ActivePages int               `json:"activePages"`
	Endpoints   map[string]string `json:"endpoints"`
}

type statsResponse struct {
	Page       string `json:"page"`
	Visitors   int    `json:"visitors"`
	Sessions   int    `json:"sessions"`
	Peak       int    `json:"peak"`
	PeakAt     int64  `json:"peakAt,omitempty"`
	LastCount  int    `json:"lastCount"`
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
}

type topPagesResponse struct {
	Pages []statsResponse `json:"pages"`
}

// HandleWS validates the query, then hands the socket to the hub.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := query.Get("page")
	userID := query.Get("userId")
	if page == "" || userID == "" {
		s.metrics.IncRejected("missing_params")
		writeError(w, http.StatusBadRequest, errMissingParams)
		return
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.metrics.IncRejected("no_upgrade")
		writeError(w, http.StatusUpgradeRequired, errExpectedUpgrade)
		return
	}
	if !s.limiter.Allow(clientIP(r)) {
		s.metrics.IncRejected("rate_limited")
		writeError(w, http.StatusTooManyRequests, errTooManyAttempts)
		return
	}
	s.hub.Accept(w, r, page, userID)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: s.clock.Now().UnixMilli()})
}

// HandleStats merges the live tracker numbers with the recorded history of one page.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	page := r.URL.Query().Get("page")
	if page == "" {
		writeError(w, http.StatusBadRequest, errMissingPageParam)
		return
	}
	resp := statsResponse{Page: page}
	if tracker := s.hub.Lookup(page); tracker != nil {
		snapshot := tracker.Snapshot()
		resp.Visitors = snapshot.Visitors
		resp.Sessions = snapshot.Sessions
	}
	if s.store != nil {
		stats, err := s.store.GetPageStats(r.Context(), page)
		if err != nil {
			s.logger.Error("load page stats", "page", page, "error", err)
			writeError(w, http.StatusInternalServerError, errStatsUnavailable)
			return
		}
		if stats != nil {
			resp.Peak = stats.PeakCount
			resp.PeakAt = stats.PeakAt.UnixMilli()
			resp.LastCount = stats.LastCount
			resp.LastSeenAt = stats.UpdatedAt.UnixMilli()
		}
	}
	if resp.Visitors > resp.Peak {
		// the recorder may not have caught up with the newest broadcast yet
		resp.Peak = resp.Visitors
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleTopPages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	if limit > maxTopPages {
		limit = maxTopPages
	}
	resp := topPagesResponse{Pages: []statsResponse{}}
	if s.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	top, err := s.store.TopPages(r.Context(), limit)
	if err != nil {
		s.logger.Error("load top pages", "error", err)
		writeError(w, http.StatusInternalServerError, errStatsUnavailable)
		return
	}
	for _, stats := range top {
		entry := statsResponse{
			Page:       stats.Page,
			Peak:       stats.PeakCount,
			PeakAt:     stats.PeakAt.UnixMilli(),
			LastCount:  stats.LastCount,
			LastSeenAt: stats.UpdatedAt.UnixMilli(),
		}
		if tracker := s.hub.Lookup(stats.Page); tracker != nil {
			snapshot := tracker.Snapshot()
			entry.Visitors = snapshot.Visitors
			entry.Sessions = snapshot.Sessions
		}
		resp.Pages = append(resp.Pages, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleIndex answers every unknown path with a description of the API.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Message:     "Visitor Tracker API",
		Version:     BuildInfo(),
		ActivePages: len(s.hub.Pages()),
		Endpoints: map[string]string{
			"websocket": "/ws?page=<pageUrl>&userId=<userId>",
			"health":    "/health",
			"stats":     "/stats?page=<pageUrl>",
			"top":       "/stats/top?limit=<n>",
			"metrics":   "/metrics",
		},
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Upgrade, Connection")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then the connection's remote host.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

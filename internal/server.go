package internal

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"visitortracker/internal/storage"
)

// StatsStore is what the stats endpoints read from. A nil store serves live numbers only.
type StatsStore interface {
	GetPageStats(ctx context.Context, page string) (*storage.PageStats, error)
	TopPages(ctx context.Context, limit int) ([]storage.PageStats, error)
}

// Server routes HTTP requests to the hub. Beyond the connection limiter it holds no state.
type Server struct {
	hub     *Hub
	metrics *Metrics
	limiter *RateLimiter
	store   StatsStore
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewServer(hub *Hub, limiter *RateLimiter, store StatsStore) *Server {
	return &Server{
		hub:     hub,
		metrics: hub.opts.Metrics,
		limiter: limiter,
		store:   store,
		clock:   hub.opts.Clock,
		logger:  hub.logger.With("component", "http"),
	}
}

// Handler returns the full route table wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/stats", s.HandleStats)
	mux.HandleFunc("/stats/top", s.HandleTopPages)
	mux.Handle("/metrics", s.metrics)
	mux.HandleFunc("/", s.HandleIndex)
	return withCORS(mux)
}

package internal

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/Arceliar/phony"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pageNamespace scopes the name-based page keys so they never collide with random uuids.
var pageNamespace = uuid.MustParse("6f1d2a4e-8c1b-4b7e-9a55-3d0c2f7e91a4")

// PageKey derives the tracker key for a page. The same page string always yields the same key.
func PageKey(page string) uuid.UUID {
	return uuid.NewSHA1(pageNamespace, []byte(page))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the counter is embedded on arbitrary pages, so every origin may connect
		return true
	},
}

// Hub keeps one live tracker per page and forgets trackers once their last session leaves.
type Hub struct {
	mutex    sync.Mutex
	trackers map[uuid.UUID]*PresenceTracker
	opts     TrackerOptions
	logger   *slog.Logger
}

func NewHub(opts TrackerOptions) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		trackers: make(map[uuid.UUID]*PresenceTracker),
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Lookup returns the live tracker for page, or nil when nobody is viewing it.
func (hub *Hub) Lookup(page string) *PresenceTracker {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return hub.trackers[PageKey(page)]
}

// Pages lists the pages that currently have a tracker.
func (hub *Hub) Pages() []string {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	pages := make([]string, 0, len(hub.trackers))
	for _, tracker := range hub.trackers {
		pages = append(pages, tracker.page)
	}
	sort.Strings(pages)
	return pages
}

// Accept upgrades the request and hands the socket to the page's tracker. Query parameters have
// already been validated by the router.
func (hub *Hub) Accept(writer http.ResponseWriter, request *http.Request, page, userID string) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// the upgrader has already written the http error response
		hub.logger.Warn("upgrade failed", "page", page, "error", err)
		return
	}
	var client *Client
	hub.register(page, userID, func(tracker *PresenceTracker) SessionConn {
		client = newClient(tracker, websocketConn, tracker.logger)
		return client
	})
	go client.writePump()
	go client.readPump()
}

// register joins the connection built by attach to the page's tracker. The join is enqueued under
// the hub lock so release never retires a tracker with a pending join.
func (hub *Hub) register(page, userID string, attach func(*PresenceTracker) SessionConn) *PresenceTracker {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	tracker := hub.getOrCreateTracker(page)
	tracker.Join(attach(tracker), userID)
	return tracker
}

// must be called with hub.mutex held
func (hub *Hub) getOrCreateTracker(page string) *PresenceTracker {
	key := PageKey(page)
	if tracker, exists := hub.trackers[key]; exists {
		return tracker
	}
	tracker := NewPresenceTracker(page, hub.opts)
	tracker.onIdle = hub.release
	hub.trackers[key] = tracker
	hub.opts.Metrics.IncPage()
	hub.logger.Debug("tracker created", "page", page, "key", key)
	return tracker
}

// release drops tracker if it is still the registered instance and still has no sessions.
func (hub *Hub) release(tracker *PresenceTracker) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.trackers[tracker.key] != tracker {
		return
	}
	var idle bool
	phony.Block(tracker, func() {
		idle = len(tracker.sessions) == 0
	})
	if !idle {
		return
	}
	delete(hub.trackers, tracker.key)
	hub.opts.Metrics.DecPage()
	hub.logger.Debug("tracker released", "page", tracker.page)
}

// Shutdown closes every session on every page and forgets all trackers. Later joins start fresh.
func (hub *Hub) Shutdown() {
	hub.mutex.Lock()
	trackers := hub.trackers
	hub.trackers = make(map[uuid.UUID]*PresenceTracker)
	hub.mutex.Unlock()

	closed := 0
	for _, tracker := range trackers {
		phony.Block(tracker, func() {
			closed += tracker.closeAll()
		})
		hub.opts.Metrics.DecPage()
	}
	hub.logger.Info("hub shut down", "pages", len(trackers), "sessions", closed)
}

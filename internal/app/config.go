package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	intrnl "visitortracker/internal"
)

const (
	DefaultAddr       = ":8787"
	// connection rate limiting is opt-in; tabs behind one NAT share an address
	DefaultConnLimit  = 0
	DefaultConnWindow = time.Minute
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr             string
	DBPath           string
	HeartbeatTimeout time.Duration
	CleanupInterval  time.Duration
	ConnLimit        int
	ConnWindow       time.Duration
	LogLevel         string
	LogFormat        string
}

// ClientConfig defines the parameters the watcher needs.
type ClientConfig struct {
	ServerURL string
	Page      string
	UserID    string
}

// DefaultServerConfig returns the configuration used when no flags or env vars are set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             DefaultAddr,
		DBPath:           DefaultDBPath(),
		HeartbeatTimeout: intrnl.DefaultHeartbeatTimeout,
		CleanupInterval:  intrnl.DefaultCleanupInterval,
		ConnLimit:        DefaultConnLimit,
		ConnWindow:       DefaultConnWindow,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Validate rejects configurations that would make the sweep miss stale sessions.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("heartbeat timeout must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup interval must be positive"))
	}
	if c.HeartbeatTimeout > 0 && c.CleanupInterval >= c.HeartbeatTimeout {
		errs = append(errs, fmt.Errorf("cleanup interval %s must be shorter than heartbeat timeout %s",
			c.CleanupInterval, c.HeartbeatTimeout))
	}
	if c.ConnLimit > 0 && c.ConnWindow <= 0 {
		errs = append(errs, errors.New("connection window must be positive when a limit is set"))
	}
	return errors.Join(errs...)
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("VISITOR_TRACKER_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("VISITOR_TRACKER_DATA_DIR"); env != "" {
		return filepath.Join(env, "visitortracker.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "visitortracker", "visitortracker.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "VisitorTracker", "visitortracker.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "VisitorTracker", "visitortracker.db")
		}
		return filepath.Join(home, ".local", "share", "visitortracker", "visitortracker.db")
	}
	return filepath.Join(".", ".visitortracker", "visitortracker.db")
}

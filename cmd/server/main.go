package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	intrnl "visitortracker/internal"
	"visitortracker/internal/app"
	"visitortracker/internal/logging"
)

func main() {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	defaults := app.DefaultServerConfig()
	addr := flag.String("addr", getEnv("VISITOR_TRACKER_ADDR", defaults.Addr), "server listen address")
	dbPath := flag.String("db", getEnv("VISITOR_TRACKER_DB_PATH", defaults.DBPath), "SQLite database path")
	heartbeatTimeout := flag.Duration("heartbeat-timeout", getEnvDuration("VISITOR_TRACKER_HEARTBEAT_TIMEOUT", defaults.HeartbeatTimeout), "time without a heartbeat before a session stops counting")
	cleanupInterval := flag.Duration("cleanup-interval", getEnvDuration("VISITOR_TRACKER_CLEANUP_INTERVAL", defaults.CleanupInterval), "how often stale sessions are swept")
	connLimit := flag.Int("conn-limit", getEnvInt("VISITOR_TRACKER_CONN_LIMIT", defaults.ConnLimit), "websocket connects allowed per client IP and window (0 disables)")
	connWindow := flag.Duration("conn-window", getEnvDuration("VISITOR_TRACKER_CONN_WINDOW", defaults.ConnWindow), "window for the connection limit")
	logLevel := flag.String("log-level", getEnv("VISITOR_TRACKER_LOG_LEVEL", defaults.LogLevel), "debug, info, warn or error")
	logFormat := flag.String("log-format", getEnv("VISITOR_TRACKER_LOG_FORMAT", defaults.LogFormat), "text or json")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(intrnl.BuildInfo())
		return
	}

	logger := logging.Init(*logLevel, *logFormat)
	cfg := app.ServerConfig{
		Addr:             *addr,
		DBPath:           *dbPath,
		HeartbeatTimeout: *heartbeatTimeout,
		CleanupInterval:  *cleanupInterval,
		ConnLimit:        *connLimit,
		ConnWindow:       *connWindow,
		LogLevel:         *logLevel,
		LogFormat:        *logFormat,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, app.ServerOptions{Logger: logger})
	if err != nil {
		logger.Error("server start", "error", err)
		os.Exit(1)
	}
	if err := handle.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

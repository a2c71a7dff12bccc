package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"visitortracker/internal/app"
)

func main() {
	_ = godotenv.Load()

	defaultServer := envOrDefault("VISITOR_TRACKER_SERVER", "http://localhost:8787")
	serverURL := flag.String("server", defaultServer, "visitor tracker base URL (http, https, ws or wss)")
	userID := flag.String("user-id", envOrDefault("VISITOR_TRACKER_USER_ID", ""), "override the persisted user id")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: watch [flags] <page>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := app.ClientConfig{
		ServerURL: *serverURL,
		Page:      args[0],
		UserID:    *userID,
	}
	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

package app

import (
	"errors"
	"fmt"

	intrnl "visitortracker/internal"
)

// RunClient launches the watcher TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.Page == "" {
		return errors.New("page is required")
	}
	userID := cfg.UserID
	if userID == "" {
		var err error
		userID, err = intrnl.LoadOrCreateUserID(intrnl.DefaultIdentityPath())
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}
	}
	return intrnl.RunWatcher(cfg.ServerURL, cfg.Page, userID)
}

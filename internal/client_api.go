package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const identityFileName = "identity.json"

// identityFile is the watcher's stand-in for the browser's localStorage entry.
type identityFile struct {
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultIdentityPath is where the watcher keeps its user id between runs.
func DefaultIdentityPath() string {
	if env := os.Getenv("VISITOR_TRACKER_IDENTITY"); env != "" {
		return env
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "visitortracker", identityFileName)
	}
	return filepath.Join(".", ".visitortracker", identityFileName)
}

// LoadOrCreateUserID returns the persisted user id, generating and saving one on first use.
func LoadOrCreateUserID(path string) (string, error) {
	if identity, err := loadIdentityFromDisk(path); err == nil {
		return identity.UserID, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read identity: %w", err)
	}
	identity := identityFile{UserID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	if err := saveIdentityToDisk(path, identity); err != nil {
		return "", fmt.Errorf("save identity: %w", err)
	}
	return identity.UserID, nil
}

func loadIdentityFromDisk(path string) (*identityFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var identity identityFile
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(identity.UserID); err != nil {
		return nil, fmt.Errorf("identity file holds an invalid user id: %w", err)
	}
	return &identity, nil
}

func saveIdentityToDisk(path string, identity identityFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// httpBase normalizes the server address to an http(s) origin without path or query.
func httpBase(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http", "https":
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// buildWatchURL turns the server origin into the websocket URL for page.
func buildWatchURL(serverURL, page, userID string) (string, error) {
	base, err := httpBase(serverURL)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "https" {
		parsed.Scheme = "wss"
	} else {
		parsed.Scheme = "ws"
	}
	parsed.Path = "/ws"
	query := url.Values{}
	query.Set("page", page)
	query.Set("userId", userID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type healthPayload struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// newAPIClient builds the resty client used for the health probe.
func newAPIClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(3*time.Second).
		SetHeader("Accept", "application/json")
}

// checkHealth asks the server whether it is up before the watcher dials the socket.
func checkHealth(client *resty.Client) error {
	var payload healthPayload
	resp, err := client.R().SetResult(&payload).Get("/health")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("health check returned %s", resp.Status())
	}
	if payload.Status != "ok" {
		return fmt.Errorf("server reports status %q", payload.Status)
	}
	return nil
}

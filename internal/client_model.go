package internal

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

const (
	HeartbeatInterval = 20 * time.Second
	ReconnectDelay    = 5 * time.Second
	maxNotices        = 5
)

// WatcherModel is a terminal tab on one page: it counts itself as a visitor and shows how many
// others are there.
type WatcherModel struct {
	serverURL string
	page      string
	userID    string
	api       *resty.Client

	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	generation      int
	isConnected     bool
	connectionError error
	reconnecting    bool

	visible    bool
	count      int
	hasCount   bool
	lastUpdate time.Time
	pingSentAt time.Time
	lastRTT    time.Duration
	notices    []string

	spinner spinner.Model
	now     func() time.Time
}

func NewWatcherModel(serverURL, page, userID string) (*WatcherModel, error) {
	base, err := httpBase(serverURL)
	if err != nil {
		return nil, err
	}
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))

	return &WatcherModel{
		serverURL: base,
		page:      page,
		userID:    userID,
		api:       newAPIClient(base),
		visible:   true,
		spinner:   spin,
		now:       time.Now,
	}, nil
}

func (model *WatcherModel) Init() tea.Cmd {
	return tea.Batch(model.spinner.Tick, model.healthCmd())
}

// BadgeText mirrors the browser badge: nothing while disconnected or when the watcher is alone.
func (model *WatcherModel) BadgeText() string {
	if !model.isConnected || !model.hasCount || model.count <= 1 {
		return ""
	}
	return formatVisitors(model.count)
}

func (model *WatcherModel) addNotice(text string) {
	stamp := model.now().Format("15:04:05")
	model.notices = append(model.notices, stamp+" "+text)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

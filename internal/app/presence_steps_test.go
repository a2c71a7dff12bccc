package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	intrnl "visitortracker/internal"
	"visitortracker/internal/logging"
)

const stepTimeout = 2 * time.Second

// presenceWorld is the per-scenario state shared by the steps.
type presenceWorld struct {
	clock    clockwork.FakeClock
	handle   *ServerHandle
	cancel   context.CancelFunc
	api      *resty.Client
	tabs     map[string]*websocket.Conn
	response *resty.Response
}

type worldKey struct{}

func getWorld(ctx context.Context) (*presenceWorld, error) {
	world, ok := ctx.Value(worldKey{}).(*presenceWorld)
	if !ok {
		return nil, errors.New("world not found in test context. Please check test definitions")
	}
	return world, nil
}

func aRunningTracker(ctx context.Context) (context.Context, error) {
	world := &presenceWorld{clock: clockwork.NewFakeClock(), tabs: make(map[string]*websocket.Conn)}
	serverCtx, cancel := context.WithCancel(context.Background())
	world.cancel = cancel

	cfg := DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.DBPath = fmt.Sprintf("sqlite://file:godog-%d?mode=memory&cache=shared", time.Now().UnixNano())
	cfg.ConnLimit = 0

	handle, err := RunServer(serverCtx, cfg, ServerOptions{Clock: world.clock, Logger: logging.Discard()})
	if err != nil {
		cancel()
		return ctx, err
	}
	world.handle = handle
	world.api = resty.New().SetBaseURL("http://" + handle.Addr())
	return context.WithValue(ctx, worldKey{}, world), nil
}

func tabOpens(ctx context.Context, tab, page string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	query := url.Values{}
	query.Set("page", page)
	query.Set("userId", "user-"+tab)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+world.handle.Addr()+"/ws?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("tab %s: %w", tab, err)
	}
	world.tabs[tab] = conn
	return nil
}

func tabsAreOn(ctx context.Context, first, second, page string) error {
	if err := tabOpens(ctx, first, page); err != nil {
		return err
	}
	if err := tabSees(ctx, first, 1); err != nil {
		return err
	}
	if err := tabOpens(ctx, second, page); err != nil {
		return err
	}
	if err := tabSees(ctx, first, 2); err != nil {
		return err
	}
	return tabSees(ctx, second, 2)
}

func (w *presenceWorld) tab(name string) (*websocket.Conn, error) {
	conn, ok := w.tabs[name]
	if !ok {
		return nil, fmt.Errorf("tab %s was never opened", name)
	}
	return conn, nil
}

func readNext(conn *websocket.Conn, timeout time.Duration) (intrnl.ServerMessage, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return intrnl.ServerMessage{}, err
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return intrnl.ServerMessage{}, err
	}
	return intrnl.DecodeServerMessage(payload)
}

func tabSees(ctx context.Context, tab string, want int) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	message, err := readNext(conn, stepTimeout)
	if err != nil {
		return fmt.Errorf("tab %s: %w", tab, err)
	}
	if message.Type != intrnl.TypeCount || message.Count == nil {
		return fmt.Errorf("tab %s: expected a count, got %q", tab, message.Type)
	}
	if *message.Count != want {
		return fmt.Errorf("tab %s: expected %d visitors, got %d", tab, want, *message.Count)
	}
	return nil
}

func tabSends(ctx context.Context, tab, messageType string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(intrnl.NewClientMessage(messageType, "user-"+tab, "", world.clock.Now()))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func tabSendsRaw(ctx context.Context, tab, raw string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(raw))
}

func tabReceivesPong(ctx context.Context, tab string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	message, err := readNext(conn, stepTimeout)
	if err != nil {
		return err
	}
	if message.Type != intrnl.TypePong {
		return fmt.Errorf("tab %s: expected pong first, got %q", tab, message.Type)
	}
	return nil
}

func tabHearsNothing(ctx context.Context, tab string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	message, err := readNext(conn, 150*time.Millisecond)
	if err == nil {
		return fmt.Errorf("tab %s: unexpected %q message", tab, message.Type)
	}
	// the timed-out connection is unusable now; forget it so cleanup does not trip over it
	_ = conn.Close()
	delete(world.tabs, tab)
	return nil
}

func tabCloses(ctx context.Context, tab string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	delete(world.tabs, tab)
	return conn.Close()
}

func tabIsClosedWithReason(ctx context.Context, tab, reason string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	conn, err := world.tab(tab)
	if err != nil {
		return err
	}
	_, err = readNext(conn, stepTimeout)
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return fmt.Errorf("tab %s: expected a close frame, got %v", tab, err)
	}
	if closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != reason {
		return fmt.Errorf("tab %s: closed with %d %q", tab, closeErr.Code, closeErr.Text)
	}
	delete(world.tabs, tab)
	return conn.Close()
}

func secondsPass(ctx context.Context, seconds int) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	world.clock.Advance(time.Duration(seconds) * time.Second)
	return nil
}

func iRequest(ctx context.Context, path string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	world.response, err = world.api.R().Get(path)
	return err
}

func theResponseStatusIs(ctx context.Context, status int) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	if world.response == nil {
		return errors.New("no request was made")
	}
	if got := world.response.StatusCode(); got != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, got, world.response.String())
	}
	return nil
}

func theResponseFieldIs(ctx context.Context, field, want string) error {
	world, err := getWorld(ctx)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(world.response.Body(), &body); err != nil {
		return err
	}
	if got := fmt.Sprint(body[field]); got != want {
		return fmt.Errorf("field %s: expected %q, got %q", field, want, got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		world, getErr := getWorld(ctx)
		if getErr != nil {
			return ctx, nil
		}
		for _, conn := range world.tabs {
			_ = conn.Close()
		}
		world.cancel()
		_ = world.handle.Wait()
		return ctx, nil
	})
	ctx.Step(`^a running tracker$`, aRunningTracker)
	ctx.Step(`^tab "([^"]*)" opens "([^"]*)"$`, tabOpens)
	ctx.Step(`^tabs "([^"]*)" and "([^"]*)" are on "([^"]*)"$`, tabsAreOn)
	ctx.Step(`^tab "([^"]*)" sees (\d+) visitors?$`, tabSees)
	ctx.Step(`^tab "([^"]*)" goes inactive$`, func(ctx context.Context, tab string) error {
		return tabSends(ctx, tab, intrnl.TypeInactive)
	})
	ctx.Step(`^tab "([^"]*)" becomes active$`, func(ctx context.Context, tab string) error {
		return tabSends(ctx, tab, intrnl.TypeActive)
	})
	ctx.Step(`^tab "([^"]*)" sends a heartbeat$`, func(ctx context.Context, tab string) error {
		return tabSends(ctx, tab, intrnl.TypeHeartbeat)
	})
	ctx.Step(`^tab "([^"]*)" pings$`, func(ctx context.Context, tab string) error {
		return tabSends(ctx, tab, intrnl.TypePing)
	})
	ctx.Step(`^tab "([^"]*)" sends "([^"]*)"$`, tabSendsRaw)
	ctx.Step(`^tab "([^"]*)" receives a pong$`, tabReceivesPong)
	ctx.Step(`^tab "([^"]*)" hears nothing$`, tabHearsNothing)
	ctx.Step(`^tab "([^"]*)" closes$`, tabCloses)
	ctx.Step(`^tab "([^"]*)" is closed with reason "([^"]*)"$`, tabIsClosedWithReason)
	ctx.Step(`^(\d+) seconds pass$`, secondsPass)
	ctx.Step(`^I request "([^"]*)"$`, iRequest)
	ctx.Step(`^the response status is (\d+)$`, theResponseStatusIs)
	ctx.Step(`^the response field "([^"]*)" is "([^"]*)"$`, theResponseFieldIs)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

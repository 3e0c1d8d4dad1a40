package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/relay/internal/auth"
	"github.com/memohai/relay/internal/healthcheck"
	"github.com/memohai/relay/internal/message/event"
	"github.com/memohai/relay/internal/metrics"
	"github.com/memohai/relay/internal/network"
	"github.com/memohai/relay/internal/router"
	"github.com/memohai/relay/internal/server"
	"github.com/memohai/relay/internal/version"
)

const testSecret = "handlers-secret"

type testEnv struct {
	e       *echo.Echo
	manager *router.Manager
	hub     *event.Hub
	libera  *network.Network
	bobnet  *network.Network
	token   string
}

type fixedChecker []healthcheck.CheckResult

func (f fixedChecker) ListChecks(ctx context.Context, user string) []healthcheck.CheckResult {
	return f
}

func newTestEnv(t *testing.T, rps float64, burst int) *testEnv {
	t.Helper()

	m := metrics.New(metrics.DefaultNamespace)
	hub := event.NewHub(nil, m)
	libera := network.New(network.Options{Owner: "alice", Name: "libera", Host: "irc.libera.chat", Nick: "alice", Channels: []string{"#go"}})
	bobnet := network.New(network.Options{Owner: "bob", Name: "bobnet", Host: "irc.example.org", Nick: "bob"})
	mgr := router.NewManager(nil, []*network.Network{libera, bobnet}, hub, nil, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr.Start(ctx)

	srv := server.NewServer(nil, "", testSecret,
		NewPingHandler(nil, hub),
		NewEventsHandler(nil, mgr, rps, burst),
		NewNetworksHandler(nil, mgr),
		NewStreamHandler(nil, hub, mgr, nil),
		NewHealthHandler(nil, fixedChecker{{ID: "push.gateway.breaker", Status: healthcheck.StatusWarn}}),
		NewMetricsHandler(m),
		NewAuthHandler(nil, testSecret, time.Hour),
	)
	token, _, err := auth.GenerateToken("alice", testSecret, time.Hour)
	require.NoError(t, err)

	return &testEnv{e: srv.Echo(), manager: mgr, hub: hub, libera: libera, bobnet: bobnet, token: token}
}

func (env *testEnv) do(method, target, body string, withToken bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if withToken {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestIngest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1000, 1000)
	events := "/networks/" + env.libera.ID() + "/events"

	tests := []struct {
		name      string
		target    string
		body      string
		withToken bool
		wantCode  int
	}{
		{name: "accepted", target: events, body: `{"type":"privmsg","nick":"bob","target":"#go","message":"hi alice"}`, withToken: true, wantCode: http.StatusAccepted},
		{name: "no token", target: events, body: `{"type":"privmsg"}`, wantCode: http.StatusUnauthorized},
		{name: "bad json", target: events, body: `{"type":`, withToken: true, wantCode: http.StatusBadRequest},
		{name: "unknown type", target: events, body: `{"type":"kick","nick":"bob"}`, withToken: true, wantCode: http.StatusBadRequest},
		{name: "missing type", target: events, body: `{"nick":"bob"}`, withToken: true, wantCode: http.StatusBadRequest},
		{name: "unknown network", target: "/networks/nope/events", body: `{"type":"privmsg"}`, withToken: true, wantCode: http.StatusNotFound},
		{name: "network of another user", target: "/networks/" + env.bobnet.ID() + "/events", body: `{"type":"privmsg"}`, withToken: true, wantCode: http.StatusNotFound},
		{
			name:      "payload too large",
			target:    events,
			body:      `{"type":"privmsg","message":"` + strings.Repeat("x", int(eventMaxBodyBytes)) + `"}`,
			withToken: true,
			wantCode:  http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.target, tt.body, tt.withToken)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	require.Eventually(t, func() bool { return env.libera.Find("#go").Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	msgs := env.libera.Find("#go").Messages()
	assert.Equal(t, "bob", msgs[0].From)
	assert.True(t, msgs[0].Highlight)
}

func TestIngestRateLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 0.001, 1)
	events := "/networks/" + env.libera.ID() + "/events"
	body := `{"type":"notice","message":"server says hi"}`

	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, events, body, true).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodPost, events, body, true).Code)
}

func TestListNetworksAndMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1000, 1000)
	events := "/networks/" + env.libera.ID() + "/events"
	for _, text := range []string{"one", "two", "three"} {
		rec := env.do(http.MethodPost, events, `{"type":"privmsg","nick":"carol","target":"alice","message":"`+text+`"}`, true)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	require.Eventually(t, func() bool {
		direct := env.libera.Find("carol")
		return direct != nil && direct.Len() == 3
	}, 2*time.Second, 10*time.Millisecond)

	rec := env.do(http.MethodGet, "/networks", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []network.Summary `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1, "only the caller's networks are listed")
	assert.Equal(t, "libera", list.Items[0].Name)
	require.Len(t, list.Items[0].Conversations, 3)
	assert.Equal(t, "carol", list.Items[0].Conversations[2].Name)

	direct := env.libera.Find("carol")
	target := "/networks/" + env.libera.ID() + "/conversations/" + strconv.FormatInt(direct.ID(), 10) + "/messages?limit=2"
	rec = env.do(http.MethodGet, target, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []struct {
			Text string `json:"text"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "two", page.Items[0].Text)
	assert.Equal(t, "three", page.Items[1].Text)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/networks/"+env.libera.ID()+"/conversations/x/messages", "", true).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/networks/"+env.libera.ID()+"/conversations/999999/messages", "", true).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/networks/"+env.bobnet.ID()+"/conversations/1/messages", "", true).Code)
}

func TestPingHealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1000, 1000)

	rec := env.do(http.MethodGet, "/ping", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	var ping pingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ping))
	assert.Equal(t, "ok", ping.Status)
	assert.Equal(t, version.Version, ping.Version)
	assert.Equal(t, 0, ping.Sessions)
	assert.GreaterOrEqual(t, ping.UptimeSeconds, int64(0))
	assert.Equal(t, http.StatusOK, env.do(http.MethodHead, "/health", "", false).Code)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/health/checks", "", false).Code)
	rec = env.do(http.MethodGet, "/health/checks", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var checks struct {
		Status string                    `json:"status"`
		Items  []healthcheck.CheckResult `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, healthcheck.StatusWarn, checks.Status)
	require.Len(t, checks.Items, 1)

	rec = env.do(http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_conversations_created_total")
	assert.Contains(t, rec.Body.String(), "relay_attached_sessions")
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1000, 1000)
	rec := env.do(http.MethodPost, "/auth/refresh", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, "Bearer", resp.TokenType)
}

func TestStream(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1000, 1000)
	ts := httptest.NewServer(env.e)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream?token=" + env.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var init initFrame
	require.NoError(t, conn.ReadJSON(&init))
	assert.Equal(t, "init", init.Type)
	require.Len(t, init.Networks, 1)
	assert.Equal(t, env.libera.ID(), init.Networks[0].ID)

	require.Eventually(t, func() bool { return env.hub.Attached("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := env.do(http.MethodPost, "/networks/"+env.libera.ID()+"/events", `{"type":"privmsg","nick":"dave","target":"alice","message":"psst"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var join event.Event
	require.NoError(t, conn.ReadJSON(&join))
	assert.Equal(t, event.TypeJoin, join.Type)
	require.NotNil(t, join.Conversation)
	assert.Equal(t, "dave", join.Conversation.Name)

	var msg event.Event
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, event.TypeMessage, msg.Type)
	require.NotNil(t, msg.Msg)
	assert.Equal(t, "psst", msg.Msg.Text)
	assert.True(t, msg.Notify)
	assert.Equal(t, join.Chan, msg.Chan)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return env.hub.Attached("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRequiresToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1000, 1000)
	ts := httptest.NewServer(env.e)
	t.Cleanup(ts.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/stream", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

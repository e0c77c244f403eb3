package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/soft_conference/pkg/conference"
	"github.com/arzzra/soft_conference/pkg/leg"
)

type fixture struct {
	reg *conference.Registry
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	promReg := prometheus.NewRegistry()
	reg, err := conference.NewRegistry(conference.RegistryConfig{
		Metrics: conference.NewMetrics(promReg),
		Logger:  logger,
	})
	require.NoError(t, err)

	s, err := New(Config{
		Registry:   reg,
		Gatherer:   promReg,
		Mode:       gin.TestMode,
		PingPeriod: time.Second,
		Logger:     logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &fixture{reg: reg, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (f *fixture) join(t *testing.T, room string, opts conference.JoinOptions) *conference.Member {
	t.Helper()
	conf, err := f.reg.FindOrCreate(room, "")
	require.NoError(t, err)
	m, err := conf.Join(context.Background(), leg.NewPipeLeg("pipe-"+opts.Name, conf.Rate(), 16), opts)
	require.NoError(t, err)
	return m
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "conference_rooms_active")
}

func TestConferenceLifecycle(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/v1/conferences", map[string]any{"name": "3000"})
	require.Equal(t, http.StatusCreated, code, body)

	code, body = f.do(t, http.MethodPost, "/api/v1/conferences", map[string]any{"name": "3000"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "general-error", body["status"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences", map[string]any{"name": "x", "profile": "nope"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences", map[string]any{"name": "y", "events": []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/conferences", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["conferences"], 1)

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/3000/lock", nil)
	assert.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodGet, "/api/v1/conferences/3000", nil)
	require.Equal(t, http.StatusOK, code)
	info := body["conference"].(map[string]any)
	assert.Equal(t, true, info["locked"])
	assert.Equal(t, "default", info["profile"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/3000/unlock", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/conferences/3000", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Eventually(t, func() bool {
		code, _ := f.do(t, http.MethodGet, "/api/v1/conferences/3000", nil)
		return code == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConferenceErrors(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/v1/conferences/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not-found", body["status"])

	_, err := f.reg.Create("room", "")
	require.NoError(t, err)

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/room/play", map[string]any{"path": "a.wav"})
	assert.Equal(t, http.StatusNotImplemented, code, "источники звука не настроены")

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/room/play", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/room/say", map[string]any{"text": "hi"})
	assert.Equal(t, http.StatusNotImplemented, code)

	code, body = f.do(t, http.MethodPost, "/api/v1/conferences/room/stop?scope=async", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["stopped"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/room/stop?scope=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/conferences/room/dial", map[string]any{"destination": "sip:100@127.0.0.1"})
	assert.Equal(t, http.StatusNotImplemented, code, "исходящие вызовы не настроены")

	code, _ = f.do(t, http.MethodPut, "/api/v1/conferences/room/agc", map[string]any{"level": 1200})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPut, "/api/v1/conferences/room/agc", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodDelete, "/api/v1/conferences/room/recordings", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["stopped"])
}

func TestMemberCommands(t *testing.T) {
	f := newFixture(t)
	a := f.join(t, "room", conference.JoinOptions{Name: "A"})
	b := f.join(t, "room", conference.JoinOptions{Name: "B"})
	base := "/api/v1/conferences/room/members/"

	code, _ := f.do(t, http.MethodPost, base+"0/mute", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, base+"999/mute", nil)
	assert.Equal(t, http.StatusNotFound, code)

	id := func(m *conference.Member) string { return base + strconvID(m.ID()) }

	code, _ = f.do(t, http.MethodPost, id(a)+"/mute", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, a.CanSpeak())
	code, _ = f.do(t, http.MethodPost, id(a)+"/unmute", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, a.CanSpeak())

	code, _ = f.do(t, http.MethodPost, id(a)+"/deaf", nil)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, a.CanHear())

	code, _ = f.do(t, http.MethodPut, id(a)+"/volume_in", map[string]any{"level": 2})
	require.Equal(t, http.StatusOK, code)
	code, body := f.do(t, http.MethodGet, id(a), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["member"].(map[string]any)["volume_in"])

	code, _ = f.do(t, http.MethodPut, id(a)+"/relationships/"+strconvID(b.ID()),
		map[string]any{"can_hear": false, "can_speak": true})
	require.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodGet, id(a)+"/relationships", nil)
	require.Equal(t, http.StatusOK, code)
	rels := body["relationships"].([]any)
	require.Len(t, rels, 1)
	assert.Equal(t, false, rels[0].(map[string]any)["can_hear"])

	code, _ = f.do(t, http.MethodPut, id(a)+"/relationships/"+strconvID(a.ID()),
		map[string]any{"can_hear": false, "can_speak": false})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodDelete, id(a)+"/relationships/"+strconvID(b.ID()), nil)
	require.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodGet, id(a)+"/relationships", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["relationships"])

	code, _ = f.do(t, http.MethodPost, id(b)+"/kick", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Eventually(t, func() bool {
		code, _ := f.do(t, http.MethodGet, id(b), nil)
		return code == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/events?conference=watched"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Подписка создается после upgrade; ждем ее регистрации
	time.Sleep(50 * time.Millisecond)

	_, err = f.reg.Create("other", "")
	require.NoError(t, err)
	_, err = f.reg.Create("watched", "")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var e conference.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, conference.ActionConferenceCreate, e.Action)
	assert.Equal(t, "watched", e.Conference)
}

func strconvID(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/courtside/go/internal/broadcast"
	"github.com/mcdev12/courtside/go/internal/games"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory game and roster store
type memStore struct {
	mu        sync.Mutex
	games     map[uuid.UUID]models.Game
	players   []models.Player
	finalized []live.FinalResult
}

func newMemStore() *memStore {
	return &memStore{games: make(map[uuid.UUID]models.Game)}
}

func (m *memStore) addGame() models.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	game := models.Game{
		ID:           uuid.New(),
		HomeTeamID:   uuid.New(),
		AwayTeamID:   uuid.New(),
		HomeTeamName: "Harbor Hawks",
		AwayTeamName: "Valley Vipers",
		Status:       models.GameStatusScheduled,
		StartsAt:     time.Now(),
	}
	m.games[game.ID] = game
	n := 4
	m.players = append(m.players, models.Player{ID: uuid.New(), FullName: "Ari Cole", TeamID: &game.HomeTeamID, JerseyNumber: &n})
	return game
}

func (m *memStore) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	game, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, live.ErrNotFound)
	}
	return &game, nil
}

func (m *memStore) SaveScore(_ context.Context, id uuid.UUID, home, away int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	game := m.games[id]
	game.HomeScore, game.AwayScore = home, away
	m.games[id] = game
	return nil
}

func (m *memStore) FinalizeGame(_ context.Context, result live.FinalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	game := m.games[result.GameID]
	game.HomeScore, game.AwayScore = result.HomeScore, result.AwayScore
	game.Status = models.GameStatusFinal
	m.games[result.GameID] = game
	m.finalized = append(m.finalized, result)
	return nil
}

func (m *memStore) ListPlayersByTeams(_ context.Context, teamIDs ...uuid.UUID) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Player
	for _, p := range m.players {
		for _, id := range teamIDs {
			if p.OnTeam(id) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (m *memStore) ListLiveGames(_ context.Context, until time.Time) ([]models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Game
	for _, g := range m.games {
		if !g.IsFinal() && !g.StartsAt.After(until) {
			out = append(out, g)
		}
	}
	return out, nil
}

// fakeCache serves fixed cached states
type fakeCache struct {
	states map[uuid.UUID]*snapshot.State
}

func (c *fakeCache) Get(_ context.Context, id uuid.UUID) (*snapshot.State, error) {
	if st, ok := c.states[id]; ok {
		return st, nil
	}
	return nil, snapshot.ErrMiss
}

type testGateway struct {
	server     *httptest.Server
	store      *memStore
	controller *live.Controller
	hub        *broadcast.Hub
	game       models.Game
}

func newTestGateway(t *testing.T, cache StateCache) *testGateway {
	t.Helper()
	return newTestGatewayWith(t, cache, DefaultConfig())
}

func newTestGatewayWith(t *testing.T, cache StateCache, config Config) *testGateway {
	t.Helper()
	store := newMemStore()
	game := store.addGame()
	hub := broadcast.NewHub()
	registry := live.NewRegistry(store, hub, hub, live.RegistryConfig{
		Rules:  live.DefaultRules(),
		Clock:  clockwork.NewFakeClock(),
		Roster: store,
	})
	controller := live.NewController(registry, store, nil)

	svc := NewService(config, Dependencies{
		Controller: controller,
		Hub:        hub,
		Games:      store,
		Roster:     store,
		Lister:     store,
		Cache:      cache,
	})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testGateway{server: srv, store: store, controller: controller, hub: hub, game: game}
}

func (g *testGateway) dial(t *testing.T, gameID uuid.UUID, role Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/games?game_id=" + gameID.String() + "&role=" + string(role)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (g *testGateway) post(t *testing.T, gameID uuid.UUID, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(g.server.URL+"/api/games/"+gameID.String()+"/commands", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// Test a viewer receives the catch-up snapshot then live events
func TestWebSocket_ViewerReceivesSnapshotAndEvents(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := gw.dial(t, gw.game.ID, RoleViewer)

	timer := readJSON(t, conn)
	assert.Equal(t, "timer_update", timer["type"])
	assert.Equal(t, float64(12), timer["clock_minutes"])
	stat := readJSON(t, conn)
	assert.Equal(t, "stat_update", stat["type"])
	assert.Equal(t, float64(0), stat["home_score"])

	resp := gw.post(t, gw.game.ID, `{"type":"add_points","side":"home","amount":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev := readJSON(t, conn)
	assert.Equal(t, "stat_update", ev["type"])
	assert.Equal(t, float64(3), ev["home_score"])
	assert.Equal(t, float64(3), ev["points_added"])
	assert.Equal(t, float64(1), ev["seq"])
}

// Test every viewer of a game gets the same events
func TestWebSocket_MultipleViewers(t *testing.T) {
	gw := newTestGateway(t, nil)
	a := gw.dial(t, gw.game.ID, RoleViewer)
	b := gw.dial(t, gw.game.ID, RoleViewer)
	for _, conn := range []*websocket.Conn{a, b} {
		readJSON(t, conn)
		readJSON(t, conn)
	}
	assert.Equal(t, 2, gw.hub.SubscriberCount(gw.game.ID))

	require.Equal(t, http.StatusOK, gw.post(t, gw.game.ID, `{"type":"set_period","period":2}`).StatusCode)

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readJSON(t, conn)
		assert.Equal(t, "timer_update", ev["type"])
		assert.Equal(t, float64(2), ev["period"])
	}
}

// Test unknown games are refused before the upgrade
func TestWebSocket_UnknownGame(t *testing.T) {
	gw := newTestGateway(t, nil)
	url := "ws" + strings.TrimPrefix(gw.server.URL, "http") + "/ws/games?game_id=" + uuid.NewString()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, gw.controller.Registry().Len())
}

// Test bad query parameters are rejected
func TestWebSocket_BadRequest(t *testing.T) {
	gw := newTestGateway(t, nil)
	base := "ws" + strings.TrimPrefix(gw.server.URL, "http") + "/ws/games"

	for _, query := range []string{"", "?game_id=nope", "?game_id=" + gw.game.ID.String() + "&role=referee"} {
		_, resp, err := websocket.DefaultDialer.Dial(base+query, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

// Test a console command is broadcast then acknowledged
func TestWebSocket_ConsoleCommand(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := gw.dial(t, gw.game.ID, RoleConsole)
	readJSON(t, conn)
	readJSON(t, conn)

	player := gw.store.players[0].ID
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"request_id": "r1",
		"type":       "add_foul",
		"player_id":  player.String(),
	}))

	ev := readJSON(t, conn)
	assert.Equal(t, "stat_update", ev["type"])
	assert.Equal(t, player.String(), ev["player_id"])
	assert.Equal(t, float64(1), ev["fouls_added"])

	ack := readJSON(t, conn)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "r1", ack["request_id"])
	assert.Equal(t, float64(1), ack["seq"])
}

// Test console errors come back as error replies
func TestWebSocket_ConsoleInvalidCommand(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := gw.dial(t, gw.game.ID, RoleConsole)
	readJSON(t, conn)
	readJSON(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"request_id": "r2",
		"type":       "reset_shot_clock",
		"seconds":    99,
	}))

	reply := readJSON(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "r2", reply["request_id"])
	assert.Equal(t, CodeInvalidCommand, reply["code"])
}

// Test viewers cannot send commands
func TestWebSocket_ViewerCannotCommand(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := gw.dial(t, gw.game.ID, RoleViewer)
	readJSON(t, conn)
	readJSON(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "start"}))

	reply := readJSON(t, conn)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, CodeForbidden, reply["code"])

	snap, ok := gw.controller.Lookup(gw.game.ID)
	require.True(t, ok)
	assert.False(t, snap.Running)
}

// Test closing the socket releases the subscription
func TestWebSocket_DisconnectUnsubscribes(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := gw.dial(t, gw.game.ID, RoleViewer)
	readJSON(t, conn)
	require.Equal(t, 1, gw.hub.SubscriberCount(gw.game.ID))

	conn.Close()
	assert.Eventually(t, func() bool {
		return gw.hub.SubscriberCount(gw.game.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// Test REST command errors map to status codes
func TestCommandHandler_Errors(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp := gw.post(t, gw.game.ID, `{"type":"add_points","side":"home","amount":1.5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, CodeInvalidCommand, body.Code)

	resp = gw.post(t, uuid.New(), `{"type":"start"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, gw.controller.Registry().Len(), "unknown game should create no session")

	resp, err := http.Post(gw.server.URL+"/api/games/not-a-uuid/commands", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Test end finalizes once and later commands conflict
func TestCommandHandler_End(t *testing.T) {
	gw := newTestGateway(t, nil)

	require.Equal(t, http.StatusOK, gw.post(t, gw.game.ID, `{"type":"add_points","side":"away","amount":2}`).StatusCode)

	resp := gw.post(t, gw.game.ID, `{"type":"end"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap live.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, live.StatusEnded, snap.Status)
	assert.Equal(t, 2, snap.AwayScore)

	require.Len(t, gw.store.finalized, 1)
	assert.Equal(t, 0, gw.controller.Registry().Len())

	resp = gw.post(t, gw.game.ID, `{"type":"start"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// Test the live state endpoint prefers the session and never creates one
func TestStateHandler_LiveState(t *testing.T) {
	gw := newTestGateway(t, nil)
	url := gw.server.URL + "/api/games/" + gw.game.ID.String() + "/live"

	resp, err := http.Get(url)
	require.NoError(t, err)
	var state LiveStateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, SourceStore, state.Source)
	assert.Equal(t, 0, gw.controller.Registry().Len())
	require.Len(t, state.Players, 1)

	player := gw.store.players[0].ID
	require.Equal(t, http.StatusOK, gw.post(t, gw.game.ID, `{"type":"add_points","side":"home","amount":2,"player_id":"`+player.String()+`"}`).StatusCode)

	resp, err = http.Get(url)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, SourceSession, state.Source)
	assert.Equal(t, 2, state.HomeScore)
	assert.Equal(t, "Harbor Hawks", state.HomeTeam)
	assert.Equal(t, 2, state.Players[0].Points)
}

// Test the cache serves games held by another instance
func TestStateHandler_FromCache(t *testing.T) {
	cache := &fakeCache{states: map[uuid.UUID]*snapshot.State{}}
	gw := newTestGateway(t, cache)
	cache.states[gw.game.ID] = &snapshot.State{GameID: gw.game.ID, Seq: 40, HomeScore: 21, AwayScore: 19, ClockMinutes: 3, Period: 2, Status: live.StatusRunning, Running: true}

	resp, err := http.Get(gw.server.URL + "/api/games/" + gw.game.ID.String() + "/live")
	require.NoError(t, err)
	defer resp.Body.Close()

	var state LiveStateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, SourceCache, state.Source)
	assert.Equal(t, 21, state.HomeScore)
	assert.Equal(t, uint64(40), state.Seq)
	assert.True(t, state.Running)
}

// Test a viewer of a game held elsewhere follows the relayed stream without
// loading a session here
func TestWebSocket_RemoteViewerFromCache(t *testing.T) {
	cache := &fakeCache{states: map[uuid.UUID]*snapshot.State{}}
	config := DefaultConfig()
	config.RemoteViewers = true
	gw := newTestGatewayWith(t, cache, config)
	epoch := uuid.New()
	cache.states[gw.game.ID] = &snapshot.State{GameID: gw.game.ID, Epoch: epoch, Seq: 40, HomeScore: 21, AwayScore: 19, ClockMinutes: 3, Period: 2, Status: live.StatusRunning, Running: true}

	conn := gw.dial(t, gw.game.ID, RoleViewer)
	timer := readJSON(t, conn)
	assert.Equal(t, "timer_update", timer["type"])
	assert.Equal(t, float64(2), timer["period"])
	stat := readJSON(t, conn)
	assert.Equal(t, float64(21), stat["home_score"])
	assert.Equal(t, float64(40), stat["seq"])
	assert.Equal(t, epoch.String(), stat["epoch"])

	assert.Equal(t, 0, gw.controller.Registry().Len(), "viewers must not load a second session")
	assert.Eventually(t, func() bool { return gw.hub.SubscriberCount(gw.game.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	gw.hub.Publish(gw.game.ID, live.Event{Type: live.EventTypeStatUpdate, GameID: gw.game.ID, Epoch: epoch, Seq: 41, StatUpdate: &live.StatUpdate{HomeScore: 23, AwayScore: 19}})
	relayed := readJSON(t, conn)
	assert.Equal(t, float64(23), relayed["home_score"])
	assert.Equal(t, float64(41), relayed["seq"])
}

// Test remote viewers fall back to the stored record and still 404 on
// unknown games
func TestWebSocket_RemoteViewerFromStore(t *testing.T) {
	config := DefaultConfig()
	config.RemoteViewers = true
	gw := newTestGatewayWith(t, nil, config)
	require.NoError(t, gw.store.SaveScore(context.Background(), gw.game.ID, 30, 28))

	conn := gw.dial(t, gw.game.ID, RoleViewer)
	readJSON(t, conn)
	stat := readJSON(t, conn)
	assert.Equal(t, float64(30), stat["home_score"])
	assert.Equal(t, float64(0), stat["seq"])
	assert.Equal(t, 0, gw.controller.Registry().Len())

	url := "ws" + strings.TrimPrefix(gw.server.URL, "http") + "/ws/games?game_id=" + uuid.NewString()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Test remote viewers of a game held here observe the local session
func TestWebSocket_RemoteViewerUsesLocalSession(t *testing.T) {
	config := DefaultConfig()
	config.RemoteViewers = true
	gw := newTestGatewayWith(t, nil, config)
	require.Equal(t, http.StatusOK, gw.post(t, gw.game.ID, `{"type":"add_points","side":"away","amount":3}`).StatusCode)
	s, ok := gw.controller.Registry().Get(gw.game.ID)
	require.True(t, ok)

	conn := gw.dial(t, gw.game.ID, RoleViewer)
	timer := readJSON(t, conn)
	assert.Equal(t, s.Epoch().String(), timer["epoch"])
	stat := readJSON(t, conn)
	assert.Equal(t, float64(3), stat["away_score"])
	assert.Equal(t, float64(1), stat["seq"])
	assert.Equal(t, 1, gw.controller.Registry().Len())
}

// Test unknown games 404 on the state endpoint
func TestStateHandler_NotFound(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, err := http.Get(gw.server.URL + "/api/games/" + uuid.NewString() + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Test the live games listing marks games with a session
func TestStateHandler_ListLiveGames(t *testing.T) {
	gw := newTestGateway(t, nil)
	require.Equal(t, http.StatusOK, gw.post(t, gw.game.ID, `{"type":"add_points","side":"home","amount":5}`).StatusCode)

	resp, err := http.Get(gw.server.URL + "/api/games/live")
	require.NoError(t, err)
	defer resp.Body.Close()

	var games []GameSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&games))
	require.Len(t, games, 1)
	assert.True(t, games[0].Live)
	assert.Equal(t, 5, games[0].HomeScore)
}

// Test stats report subscribers and sessions
func TestWebSocket_Stats(t *testing.T) {
	gw := newTestGateway(t, nil)
	conn := gw.dial(t, gw.game.ID, RoleViewer)
	readJSON(t, conn)

	resp, err := http.Get(gw.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, float64(1), stats["total_subscribers"])
	assert.Equal(t, float64(1), stats["live_sessions"])
}

// Test error classification
func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{live.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{live.ErrSessionEnded, http.StatusConflict, CodeConflict},
		{live.ErrGameFinal, http.StatusConflict, CodeConflict},
		{fmt.Errorf("finalize game: %w", games.ErrAlreadyFinal), http.StatusConflict, CodeConflict},
		{live.ErrClockExpired, http.StatusBadRequest, CodeInvalidCommand},
		{fmt.Errorf("wrapped: %w", live.ErrInvalidCommand), http.StatusBadRequest, CodeInvalidCommand},
		{fmt.Errorf("db down"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

// Test Start runs registered loops and waits for them on shutdown
func TestService_StartRunsBackgroundLoops(t *testing.T) {
	store := newMemStore()
	hub := broadcast.NewHub()
	registry := live.NewRegistry(store, hub, hub, live.RegistryConfig{Rules: live.DefaultRules()})
	svc := NewService(DefaultConfig(), Dependencies{
		Controller: live.NewController(registry, store, nil),
		Hub:        hub,
		Games:      store,
		Roster:     store,
	})

	started, finished := make(chan struct{}), make(chan struct{})
	svc.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(finished)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("background loop did not start")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	select {
	case <-finished:
	default:
		t.Fatal("Start returned before the background loop finished")
	}
}

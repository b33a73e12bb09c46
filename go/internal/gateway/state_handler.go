package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/live"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/mcdev12/courtside/go/internal/snapshot"
	"github.com/rs/zerolog/log"
)

// Where a live state response was read from
const (
	SourceSession = "session"
	SourceCache   = "cache"
	SourceStore   = "store"
)

// GameLister lists games that are on or about to be on court
type GameLister interface {
	ListLiveGames(ctx context.Context, until time.Time) ([]models.Game, error)
}

// StateCache reads scoreboards cached by other instances
type StateCache interface {
	Get(ctx context.Context, gameID uuid.UUID) (*snapshot.State, error)
}

// LiveStateResponse is the full view served to late joiners
type LiveStateResponse struct {
	Source string `json:"source"`
	live.LiveView
}

// GameSummary is one row of the live games listing
type GameSummary struct {
	GameID    string            `json:"game_id"`
	HomeTeam  string            `json:"home_team"`
	AwayTeam  string            `json:"away_team"`
	HomeScore int               `json:"home_score"`
	AwayScore int               `json:"away_score"`
	Status    models.GameStatus `json:"status"`
	StartsAt  time.Time         `json:"starts_at"`
	Live      bool              `json:"live"` // a session is held by this instance
}

// StateHandler handles HTTP requests for game state
type StateHandler struct {
	controller *live.Controller
	games      live.GameStore
	roster     live.RosterStore
	lister     GameLister
	cache      StateCache
	lookahead  time.Duration
}

// NewStateHandler creates a new state handler. lister and cache may be nil.
func NewStateHandler(controller *live.Controller, games live.GameStore, roster live.RosterStore, lister GameLister, cache StateCache) *StateHandler {
	return &StateHandler{
		controller: controller,
		games:      games,
		roster:     roster,
		lister:     lister,
		cache:      cache,
		lookahead:  time.Hour,
	}
}

// HandleGetLiveState handles GET /api/games/{id}/live. The session held by
// this instance is preferred, then the Redis cache, then the stored record.
// It never creates a session.
func (h *StateHandler) HandleGetLiveState(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid game ID format", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	game, err := h.games.GetGame(ctx, gameID)
	if err != nil {
		if status, _ := classify(err); status == http.StatusInternalServerError {
			log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to get game")
		}
		writeError(w, err)
		return
	}

	players, err := h.roster.ListPlayersByTeams(ctx, game.HomeTeamID, game.AwayTeamID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to get rosters")
		writeError(w, err)
		return
	}

	snap, source := h.currentSnapshot(ctx, game)
	writeJSON(w, http.StatusOK, LiveStateResponse{
		Source:   source,
		LiveView: live.BuildBoxScore(snap, game, players),
	})
}

// Snapshot returns the latest known state of a game without creating a
// session for it.
func (h *StateHandler) Snapshot(ctx context.Context, gameID uuid.UUID) (live.Snapshot, string, error) {
	game, err := h.games.GetGame(ctx, gameID)
	if err != nil {
		return live.Snapshot{}, "", err
	}
	snap, source := h.currentSnapshot(ctx, game)
	return snap, source, nil
}

func (h *StateHandler) currentSnapshot(ctx context.Context, game *models.Game) (live.Snapshot, string) {
	if snap, ok := h.controller.Lookup(game.ID); ok {
		return snap, SourceSession
	}

	if h.cache != nil && !game.IsFinal() {
		st, err := h.cache.Get(ctx, game.ID)
		switch {
		case err == nil:
			return snapshotFromCache(st), SourceCache
		case !errors.Is(err, snapshot.ErrMiss):
			log.Warn().Err(err).Str("game_id", game.ID.String()).Msg("snapshot cache read failed")
		}
	}

	return snapshotFromGame(game, h.controller.Registry().Rules()), SourceStore
}

func snapshotFromCache(st *snapshot.State) live.Snapshot {
	status := st.Status
	if st.Final {
		status = live.StatusEnded
	}
	return live.Snapshot{
		GameID:       st.GameID,
		Epoch:        st.Epoch,
		Status:       status,
		Seq:          st.Seq,
		HomeScore:    st.HomeScore,
		AwayScore:    st.AwayScore,
		ClockMinutes: st.ClockMinutes,
		ClockSeconds: st.ClockSeconds,
		ShotClock:    st.ShotClock,
		Period:       st.Period,
		Running:      st.Running,
	}
}

func snapshotFromGame(game *models.Game, rules live.Rules) live.Snapshot {
	snap := live.Snapshot{
		GameID:       game.ID,
		Status:       live.StatusIdle,
		HomeScore:    game.HomeScore,
		AwayScore:    game.AwayScore,
		ClockMinutes: rules.PeriodLength(1),
		ShotClock:    rules.ShotClock,
		Period:       1,
	}
	if game.IsFinal() {
		snap.Status = live.StatusEnded
		snap.ClockMinutes = 0
		snap.ShotClock = 0
	}
	return snap
}

// HandleListLiveGames handles GET /api/games/live
func (h *StateHandler) HandleListLiveGames(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeJSON(w, http.StatusOK, []GameSummary{})
		return
	}

	games, err := h.lister.ListLiveGames(r.Context(), time.Now().Add(h.lookahead))
	if err != nil {
		log.Error().Err(err).Msg("failed to list live games")
		http.Error(w, "Failed to list live games", http.StatusInternalServerError)
		return
	}

	summaries := make([]GameSummary, 0, len(games))
	for _, g := range games {
		summary := GameSummary{
			GameID:    g.ID.String(),
			HomeTeam:  g.HomeTeamName,
			AwayTeam:  g.AwayTeamName,
			HomeScore: g.HomeScore,
			AwayScore: g.AwayScore,
			Status:    g.Status,
			StartsAt:  g.StartsAt,
		}
		if snap, ok := h.controller.Lookup(g.ID); ok {
			summary.HomeScore = snap.HomeScore
			summary.AwayScore = snap.AwayScore
			summary.Live = true
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/live", h.HandleListLiveGames)
	mux.HandleFunc("GET /api/games/{id}/live", h.HandleGetLiveState)
}

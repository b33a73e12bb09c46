package live

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/courtside/go/internal/models"
)

// BoxScoreLine is one player's row in a box score.
type BoxScoreLine struct {
	PlayerID     uuid.UUID `json:"player_id"`
	Name         string    `json:"name"`
	JerseyNumber *int      `json:"jersey_number,omitempty"`
	Position     string    `json:"position,omitempty"`
	Side         Side      `json:"side,omitempty"`
	Points       int       `json:"points"`
	Fouls        int       `json:"fouls"`
}

// Scoreboard is the header of a client view.
type Scoreboard struct {
	GameID       uuid.UUID `json:"game_id"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	HomeScore    int       `json:"home_score"`
	AwayScore    int       `json:"away_score"`
	ClockMinutes int       `json:"clock_minutes"`
	ClockSeconds int       `json:"clock_seconds"`
	ShotClock    int       `json:"shot_clock"`
	Period       int       `json:"period"`
	Running      bool      `json:"running"`
	Status       Status    `json:"status"`
	Final        bool      `json:"final"`
	Epoch        uuid.UUID `json:"epoch"`
	Seq          uint64    `json:"seq"`
}

// LiveView is a full client view: scoreboard plus box score.
type LiveView struct {
	Scoreboard
	Players []BoxScoreLine `json:"players"`
}

// Projection folds the event stream of one game into a client view.
// Tallies start at zero for every roster player, so a client that joins
// mid-game only sees increments from its own subscription onward; use
// BuildBoxScore with a session snapshot to catch up.
type Projection struct {
	board Scoreboard
	lines map[uuid.UUID]*BoxScoreLine
	order []uuid.UUID
}

// NewProjection loads the game and both rosters and returns a projection
// with zeroed lines for every player.
func NewProjection(ctx context.Context, games GameStore, roster RosterStore, gameID uuid.UUID) (*Projection, error) {
	game, err := games.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := roster.ListPlayersByTeams(ctx, game.HomeTeamID, game.AwayTeamID)
	if err != nil {
		return nil, fmt.Errorf("load rosters for game %s: %w", gameID, err)
	}
	return newProjection(game, players), nil
}

func newProjection(game *models.Game, players []models.Player) *Projection {
	p := &Projection{
		board: Scoreboard{
			GameID:    game.ID,
			HomeTeam:  game.HomeTeamName,
			AwayTeam:  game.AwayTeamName,
			HomeScore: game.HomeScore,
			AwayScore: game.AwayScore,
			Status:    StatusIdle,
			Final:     game.IsFinal(),
		},
		lines: make(map[uuid.UUID]*BoxScoreLine, len(players)),
	}
	if p.board.Final {
		p.board.Status = StatusEnded
	}

	sorted := make([]models.Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sideOf(game, sorted[i]), sideOf(game, sorted[j])
		if si != sj {
			return si == SideHome
		}
		return jersey(sorted[i]) < jersey(sorted[j])
	})

	for _, pl := range sorted {
		if _, ok := p.lines[pl.ID]; ok {
			continue
		}
		p.lines[pl.ID] = &BoxScoreLine{
			PlayerID:     pl.ID,
			Name:         pl.FullName,
			JerseyNumber: pl.JerseyNumber,
			Position:     pl.Position,
			Side:         sideOf(game, pl),
		}
		p.order = append(p.order, pl.ID)
	}
	return p
}

// ProjectionFromView resumes a projection from a view fetched over REST,
// so later events continue from its seq.
func ProjectionFromView(view LiveView) *Projection {
	p := &Projection{
		board: view.Scoreboard,
		lines: make(map[uuid.UUID]*BoxScoreLine, len(view.Players)),
	}
	for _, line := range view.Players {
		if _, ok := p.lines[line.PlayerID]; ok {
			continue
		}
		l := line
		p.lines[l.PlayerID] = &l
		p.order = append(p.order, l.PlayerID)
	}
	return p
}

func sideOf(game *models.Game, pl models.Player) Side {
	switch {
	case pl.OnTeam(game.HomeTeamID):
		return SideHome
	case pl.OnTeam(game.AwayTeamID):
		return SideAway
	default:
		return ""
	}
}

func jersey(pl models.Player) int {
	if pl.JerseyNumber == nil {
		return 1 << 30
	}
	return *pl.JerseyNumber
}

// Apply folds one event into the view. Events older than the last applied
// seq of their epoch are ignored, as are repeated player increments. A new
// epoch means the session was reloaded and its seq starts over.
func (p *Projection) Apply(ev Event) {
	guard := SeqGuard{Epoch: p.board.Epoch, Seq: p.board.Seq}
	if !guard.Admit(ev, ev.hasIncrement()) {
		return
	}
	p.board.Epoch = guard.Epoch
	p.board.Seq = guard.Seq

	switch ev.Type {
	case EventTypeTimerUpdate:
		if ev.TimerUpdate == nil {
			return
		}
		p.board.ClockMinutes = ev.ClockMinutes
		p.board.ClockSeconds = ev.ClockSeconds
		p.board.ShotClock = ev.ShotClock
		p.board.Period = ev.TimerUpdate.Period
		p.board.Running = ev.Running
		p.board.Status = ev.Status
		if ev.Status == StatusEnded {
			p.board.Final = true
		}
	case EventTypeStatUpdate:
		if ev.StatUpdate == nil {
			return
		}
		p.board.HomeScore = ev.HomeScore
		p.board.AwayScore = ev.AwayScore
		if ev.Final {
			p.board.Final = true
		}
		if ev.PlayerID == nil {
			return
		}
		line := p.lineFor(*ev.PlayerID)
		line.Points += ev.PointsAdded
		line.Fouls += ev.FoulsAdded
	}
}

// ApplyMessage decodes a wire event and applies it.
func (p *Projection) ApplyMessage(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		return err
	}
	p.Apply(ev)
	return nil
}

// lineFor returns the line for a player, adding an unnamed line for
// players not on either roster.
func (p *Projection) lineFor(id uuid.UUID) *BoxScoreLine {
	line, ok := p.lines[id]
	if !ok {
		line = &BoxScoreLine{PlayerID: id}
		p.lines[id] = line
		p.order = append(p.order, id)
	}
	return line
}

// Line returns one player's row.
func (p *Projection) Line(id uuid.UUID) (BoxScoreLine, bool) {
	line, ok := p.lines[id]
	if !ok {
		return BoxScoreLine{}, false
	}
	return *line, true
}

// Scoreboard returns the current header.
func (p *Projection) Scoreboard() Scoreboard {
	return p.board
}

// View returns a copy of the full view.
func (p *Projection) View() LiveView {
	view := LiveView{
		Scoreboard: p.board,
		Players:    make([]BoxScoreLine, 0, len(p.order)),
	}
	for _, id := range p.order {
		view.Players = append(view.Players, *p.lines[id])
	}
	return view
}

// BuildBoxScore renders a session snapshot as a full client view, with
// tallies taken from the session rather than from an event stream.
func BuildBoxScore(snap Snapshot, game *models.Game, players []models.Player) LiveView {
	p := newProjection(game, players)
	p.board.HomeScore = snap.HomeScore
	p.board.AwayScore = snap.AwayScore
	p.board.ClockMinutes = snap.ClockMinutes
	p.board.ClockSeconds = snap.ClockSeconds
	p.board.ShotClock = snap.ShotClock
	p.board.Period = snap.Period
	p.board.Running = snap.Running
	p.board.Status = snap.Status
	p.board.Final = snap.Status == StatusEnded
	p.board.Epoch = snap.Epoch
	p.board.Seq = snap.Seq

	ids := make([]uuid.UUID, 0, len(snap.Tallies))
	for id := range snap.Tallies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		tally := snap.Tallies[id]
		line := p.lineFor(id)
		line.Points = tally.Points
		line.Fouls = tally.Fouls
	}
	return p.View()
}

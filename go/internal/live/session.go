package live

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

// Side names a team within a game.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

func (s Side) valid() bool {
	return s == SideHome || s == SideAway
}

// MaxScore bounds team scores and player point tallies to what the store
// can hold.
const MaxScore = math.MaxInt32

// StatLine is a player's running tally in a session.
type StatLine struct {
	Points int `json:"points"`
	Fouls  int `json:"fouls"`
}

// SessionConfig carries what a session needs besides its game.
type SessionConfig struct {
	Rules        Rules
	Clock        clockwork.Clock
	TickInterval time.Duration
	Publisher    Publisher
	// Roster maps every player allowed in the game to their side. A nil
	// roster accepts any player.
	Roster map[uuid.UUID]Side
}

// RosterSides maps each player of the game's two teams to their side.
// Players on neither team are left out.
func RosterSides(game *models.Game, players []models.Player) map[uuid.UUID]Side {
	sides := make(map[uuid.UUID]Side, len(players))
	for _, pl := range players {
		if side := sideOf(game, pl); side != "" {
			sides[pl.ID] = side
		}
	}
	return sides
}

// Session is the authoritative live state of one game. All mutations and
// the publish that follows them happen under mu, so subscribers observe
// events in mutation order.
type Session struct {
	mu sync.Mutex

	gameID       uuid.UUID
	epoch        uuid.UUID
	rules        Rules
	clock        clockwork.Clock
	tickInterval time.Duration
	pub          Publisher
	roster       map[uuid.UUID]Side

	status       Status
	homeScore    int
	awayScore    int
	clockMinutes int
	clockSeconds int
	shotClock    int
	period       int
	tallies      map[uuid.UUID]*StatLine
	seq          uint64
	lastActivity time.Time

	driver    *clockDriver
	driverGen uint64

	retired atomic.Bool
}

// NewSession builds an idle session seeded from the persisted game: scores
// come from the record, the clock starts at a full first period. Each
// session gets a fresh epoch for its events.
func NewSession(game *models.Game, cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Session{
		gameID:       game.ID,
		epoch:        uuid.New(),
		rules:        cfg.Rules,
		clock:        cfg.Clock,
		tickInterval: cfg.TickInterval,
		pub:          cfg.Publisher,
		roster:       cfg.Roster,
		status:       StatusIdle,
		homeScore:    game.HomeScore,
		awayScore:    game.AwayScore,
		clockMinutes: cfg.Rules.PeriodLength(1),
		shotClock:    cfg.Rules.ShotClock,
		period:       1,
		tallies:      make(map[uuid.UUID]*StatLine),
		lastActivity: cfg.Clock.Now(),
	}
}

// GameID returns the id of the game this session drives.
func (s *Session) GameID() uuid.UUID {
	return s.gameID
}

// Epoch returns the id stamped on every event of this session.
func (s *Session) Epoch() uuid.UUID {
	return s.epoch
}

// Start sets the clock running. Starting a running clock is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	if s.status == StatusRunning {
		return nil
	}
	if s.clockMinutes == 0 && s.clockSeconds == 0 {
		return ErrClockExpired
	}

	s.status = StatusRunning
	s.touchLocked()
	s.driverGen++
	s.driver = startClockDriver(s.clock, s.tickInterval, s.driverGen, s.tickFromDriver)
	s.publishTimerLocked(false)

	log.Info().
		Str("game_id", s.gameID.String()).
		Int("period", s.period).
		Int("clock_minutes", s.clockMinutes).
		Int("clock_seconds", s.clockSeconds).
		Msg("Game clock started")
	return nil
}

// Stop halts the clock. Stopping a stopped clock is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	if s.status != StatusRunning {
		return nil
	}

	s.status = StatusIdle
	s.stopDriverLocked()
	s.touchLocked()
	s.publishTimerLocked(false)

	log.Info().
		Str("game_id", s.gameID.String()).
		Int("clock_minutes", s.clockMinutes).
		Int("clock_seconds", s.clockSeconds).
		Msg("Game clock stopped")
	return nil
}

// Tick advances the clock by one second. It is driven by the clock driver
// but may be called directly.
func (s *Session) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return ErrSessionEnded
	}
	if s.status != StatusRunning {
		return ErrNotRunning
	}
	s.tickLocked()
	return nil
}

// tickFromDriver applies a driver tick if the driver generation is still
// current and reports whether the driver should keep going.
func (s *Session) tickFromDriver(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.driverGen || s.status != StatusRunning {
		return false
	}
	s.tickLocked()
	return s.status == StatusRunning
}

func (s *Session) tickLocked() {
	if s.clockSeconds > 0 {
		s.clockSeconds--
	} else if s.clockMinutes > 0 {
		s.clockMinutes--
		s.clockSeconds = 59
	}
	if s.shotClock > 0 {
		s.shotClock--
	}

	expired := s.clockMinutes == 0 && s.clockSeconds == 0
	if expired {
		s.status = StatusIdle
		s.stopDriverLocked()
		log.Info().
			Str("game_id", s.gameID.String()).
			Int("period", s.period).
			Msg("Period clock expired")
	}
	s.publishTimerLocked(expired)
}

// AddPoints adjusts a team's score by amount and, when playerID is set,
// credits the player, who must play for side. Negative amounts are
// corrections; a correction that would take the score below zero is
// rejected, as is any change taking a score or tally past MaxScore.
func (s *Session) AddPoints(side Side, amount int, playerID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	if !side.valid() {
		return invalidf("unknown side %q", side)
	}
	if playerID != nil {
		if err := s.checkPlayerLocked(*playerID, side); err != nil {
			return err
		}
	}
	if amount > MaxScore || amount < -MaxScore {
		return invalidf("amount %d out of range", amount)
	}

	score := &s.homeScore
	if side == SideAway {
		score = &s.awayScore
	}
	if *score+amount < 0 {
		return invalidf("%s score %d cannot be corrected by %d", side, *score, amount)
	}
	if *score+amount > MaxScore {
		return invalidf("%s score %d cannot exceed %d", side, *score+amount, MaxScore)
	}
	if playerID != nil {
		if points := s.pointsLocked(*playerID) + amount; points > MaxScore || points < -MaxScore {
			return invalidf("player %s tally %d out of range", *playerID, points)
		}
	}
	*score += amount

	if playerID != nil {
		s.tallyLocked(*playerID).Points += amount
	}
	s.touchLocked()
	s.publishStatLocked(playerID, amount, 0)
	return nil
}

// AddFoul records a personal foul for a player.
func (s *Session) AddFoul(playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	if err := s.checkPlayerLocked(playerID, ""); err != nil {
		return err
	}

	s.tallyLocked(playerID).Fouls++
	s.touchLocked()
	s.publishStatLocked(&playerID, 0, 1)
	return nil
}

// ResetShotClock sets the shot clock to seconds, which must be within
// [0, Rules.ShotClock].
func (s *Session) ResetShotClock(seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	if seconds < 0 || seconds > s.rules.ShotClock {
		return invalidf("shot clock must be within [0, %d], got %d", s.rules.ShotClock, seconds)
	}

	s.shotClock = seconds
	s.touchLocked()
	s.publishTimerLocked(false)
	return nil
}

// SetPeriod moves the game to period n, clamped to at least 1. The game
// clock is left untouched.
func (s *Session) SetPeriod(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	if n < 1 {
		n = 1
	}

	s.period = n
	s.touchLocked()
	s.publishTimerLocked(false)
	return nil
}

// SetClock overrides the game clock, bounded by the current period length.
func (s *Session) SetClock(minutes, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return err
	}
	limit := s.rules.PeriodLength(s.period)
	if minutes < 0 || seconds < 0 || seconds > 59 || minutes*60+seconds > limit*60 {
		return invalidf("clock %d:%02d outside 0:00..%d:00", minutes, seconds, limit)
	}

	s.clockMinutes = minutes
	s.clockSeconds = seconds
	if minutes == 0 && seconds == 0 && s.status == StatusRunning {
		s.status = StatusIdle
		s.stopDriverLocked()
	}
	s.touchLocked()
	s.publishTimerLocked(false)
	return nil
}

// End closes out the game. finalize persists the result; if it fails the
// session is left exactly as it was. On success the driver is stopped, the
// session becomes ended and a final pair of events is published.
func (s *Session) End(ctx context.Context, finalize func(context.Context, FinalResult) error) (FinalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutableLocked(); err != nil {
		return FinalResult{}, err
	}

	result := FinalResult{
		GameID:     s.gameID,
		HomeScore:  s.homeScore,
		AwayScore:  s.awayScore,
		Period:     s.period,
		Tallies:    s.talliesLocked(),
		FinishedAt: s.clock.Now().UTC(),
	}
	if finalize != nil {
		if err := finalize(ctx, result); err != nil {
			return FinalResult{}, err
		}
	}

	s.stopDriverLocked()
	s.status = StatusEnded
	s.touchLocked()
	s.publishTimerLocked(false)
	s.publishFinalLocked()

	log.Info().
		Str("game_id", s.gameID.String()).
		Int("home_score", s.homeScore).
		Int("away_score", s.awayScore).
		Msg("Game ended")
	return result, nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Observe runs fn with the current state while holding the session lock, so
// no event can be published between the snapshot and whatever fn registers.
func (s *Session) Observe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.snapshotLocked())
}

// Close stops the clock driver without changing state. Used on eviction.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopDriverLocked()
}

// retireIfIdle checkpoints and retires the session if it has been idle for
// at least timeout. Once retired every mutation fails and the registry
// treats the session as absent.
func (s *Session) retireIfIdle(ctx context.Context, now time.Time, timeout time.Duration, checkpoint func(context.Context, Snapshot) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusIdle || s.retired.Load() {
		return false, nil
	}
	if now.Sub(s.lastActivity) < timeout {
		return false, nil
	}
	if checkpoint != nil {
		if err := checkpoint(ctx, s.snapshotLocked()); err != nil {
			return false, err
		}
	}
	s.retired.Store(true)
	s.stopDriverLocked()
	return true, nil
}

func (s *Session) isRetired() bool {
	return s.retired.Load()
}

func (s *Session) checkMutableLocked() error {
	if s.retired.Load() {
		return errSessionRetired
	}
	if s.status == StatusEnded {
		return ErrSessionEnded
	}
	return nil
}

func (s *Session) stopDriverLocked() {
	if s.driver != nil {
		s.driver.stop()
		s.driver = nil
	}
	s.driverGen++
}

func (s *Session) touchLocked() {
	s.lastActivity = s.clock.Now()
}

// checkPlayerLocked rejects players outside the roster and, when side is
// set, players of the other team.
func (s *Session) checkPlayerLocked(playerID uuid.UUID, side Side) error {
	if playerID == uuid.Nil {
		return invalidf("player_id must not be the nil uuid")
	}
	if s.roster == nil {
		return nil
	}
	onSide, ok := s.roster[playerID]
	if !ok {
		return invalidf("player %s is not on either roster", playerID)
	}
	if side != "" && onSide != side {
		return invalidf("player %s plays for %s, not %s", playerID, onSide, side)
	}
	return nil
}

func (s *Session) pointsLocked(playerID uuid.UUID) int {
	if line, ok := s.tallies[playerID]; ok {
		return line.Points
	}
	return 0
}

func (s *Session) tallyLocked(playerID uuid.UUID) *StatLine {
	line, ok := s.tallies[playerID]
	if !ok {
		line = &StatLine{}
		s.tallies[playerID] = line
	}
	return line
}

func (s *Session) talliesLocked() map[uuid.UUID]StatLine {
	out := make(map[uuid.UUID]StatLine, len(s.tallies))
	for id, line := range s.tallies {
		out[id] = *line
	}
	return out
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		GameID:       s.gameID,
		Epoch:        s.epoch,
		Status:       s.status,
		Seq:          s.seq,
		HomeScore:    s.homeScore,
		AwayScore:    s.awayScore,
		ClockMinutes: s.clockMinutes,
		ClockSeconds: s.clockSeconds,
		ShotClock:    s.shotClock,
		Period:       s.period,
		Running:      s.status == StatusRunning,
		Tallies:      s.talliesLocked(),
	}
}

func (s *Session) publishTimerLocked(expired bool) {
	snap := s.snapshotLocked()
	timer := snap.Timer()
	timer.Expired = expired
	s.publishLocked(Event{Type: EventTypeTimerUpdate, TimerUpdate: timer})
}

func (s *Session) publishStatLocked(playerID *uuid.UUID, points, fouls int) {
	var pid *uuid.UUID
	if playerID != nil {
		id := *playerID
		pid = &id
	}
	s.publishLocked(Event{
		Type: EventTypeStatUpdate,
		StatUpdate: &StatUpdate{
			HomeScore:   s.homeScore,
			AwayScore:   s.awayScore,
			PlayerID:    pid,
			PointsAdded: points,
			FoulsAdded:  fouls,
		},
	})
}

func (s *Session) publishFinalLocked() {
	s.publishLocked(Event{
		Type: EventTypeStatUpdate,
		StatUpdate: &StatUpdate{
			HomeScore: s.homeScore,
			AwayScore: s.awayScore,
			Final:     true,
		},
	})
}

func (s *Session) publishLocked(ev Event) {
	s.seq++
	ev.GameID = s.gameID
	ev.Epoch = s.epoch
	ev.Seq = s.seq
	ev.Timestamp = s.clock.Now().UTC()
	if s.pub != nil {
		s.pub.Publish(s.gameID, ev)
	}
}

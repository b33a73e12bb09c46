package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/courtside/go/internal/models"
	"github.com/stretchr/testify/mock"
)

// recordingPublisher keeps every published event in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan Event, 512)}
}

func (p *recordingPublisher) Publish(_ uuid.UUID, ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	select {
	case p.ch <- ev:
	default:
	}
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) Last() Event {
	events := p.Events()
	return events[len(events)-1]
}

func (p *recordingPublisher) drain() {
	for {
		select {
		case <-p.ch:
		default:
			return
		}
	}
}

func (p *recordingPublisher) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-p.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (p *recordingPublisher) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-p.ch:
		t.Fatalf("unexpected event %s seq=%d", ev.Type, ev.Seq)
	case <-time.After(wait):
	}
}

// mockGameStore is a GameStore backed by testify/mock
type mockGameStore struct {
	mock.Mock
}

func (m *mockGameStore) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	args := m.Called(ctx, id)
	game, _ := args.Get(0).(*models.Game)
	return game, args.Error(1)
}

func (m *mockGameStore) SaveScore(ctx context.Context, id uuid.UUID, homeScore, awayScore int) error {
	args := m.Called(ctx, id, homeScore, awayScore)
	return args.Error(0)
}

func (m *mockGameStore) FinalizeGame(ctx context.Context, result FinalResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

type mockRosterStore struct {
	mock.Mock
}

func (m *mockRosterStore) ListPlayersByTeams(ctx context.Context, teamIDs ...uuid.UUID) ([]models.Player, error) {
	args := m.Called(ctx, teamIDs)
	players, _ := args.Get(0).([]models.Player)
	return players, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) GameFinalized(ctx context.Context, result FinalResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

// staticCounter reports fixed subscriber counts
type staticCounter struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func (c *staticCounter) set(id uuid.UUID, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[uuid.UUID]int)
	}
	c.counts[id] = n
}

func (c *staticCounter) SubscriberCount(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

func testGame() *models.Game {
	return &models.Game{
		ID:           uuid.New(),
		HomeTeamID:   uuid.New(),
		AwayTeamID:   uuid.New(),
		HomeTeamName: "Harbor Hawks",
		AwayTeamName: "Valley Vipers",
		Status:       models.GameStatusScheduled,
	}
}

func newTestSession(t *testing.T) (*Session, *recordingPublisher, *clockwork.FakeClock) {
	t.Helper()
	pub := newRecordingPublisher()
	clock := clockwork.NewFakeClock()
	s := NewSession(testGame(), SessionConfig{
		Rules:        DefaultRules(),
		Clock:        clock,
		TickInterval: time.Second,
		Publisher:    pub,
	})
	t.Cleanup(s.Close)
	return s, pub, clock
}

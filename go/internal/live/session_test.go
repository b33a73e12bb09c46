package live

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test a new session starts idle with a full first period
func TestNewSession_InitialState(t *testing.T) {
	s, pub, _ := newTestSession(t)

	snap := s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, 12, snap.ClockMinutes)
	assert.Equal(t, 0, snap.ClockSeconds)
	assert.Equal(t, 24, snap.ShotClock)
	assert.Equal(t, 1, snap.Period)
	assert.False(t, snap.Running)
	assert.Empty(t, snap.Tallies)
	assert.Empty(t, pub.Events(), "creating a session should not publish")
}

// Test thirteen ticks from 12:00 leave the clock at 11:47
func TestSession_TicksDecrementClock(t *testing.T) {
	s, pub, _ := newTestSession(t)
	require.NoError(t, s.Start())

	for i := 0; i < 13; i++ {
		require.NoError(t, s.Tick())
	}

	snap := s.Snapshot()
	assert.Equal(t, 11, snap.ClockMinutes)
	assert.Equal(t, 47, snap.ClockSeconds)
	assert.Equal(t, 11, snap.ShotClock)
	assert.True(t, snap.Running)

	events := pub.Events()
	require.Len(t, events, 14, "one event for start and one per tick")
	last := events[13]
	assert.Equal(t, EventTypeTimerUpdate, last.Type)
	assert.Equal(t, 11, last.ClockMinutes)
	assert.Equal(t, 47, last.ClockSeconds)
}

// Test the clock expires at 0:00 and stops itself
func TestSession_TickExpiresPeriod(t *testing.T) {
	s, pub, _ := newTestSession(t)
	require.NoError(t, s.SetClock(0, 2))
	require.NoError(t, s.Start())

	require.NoError(t, s.Tick())
	assert.False(t, pub.Last().Expired)

	require.NoError(t, s.Tick())
	last := pub.Last()
	assert.True(t, last.Expired, "the tick reaching 0:00 should be marked expired")
	assert.False(t, last.Running)
	assert.Equal(t, StatusIdle, last.Status)
	assert.Equal(t, 0, last.ClockMinutes)
	assert.Equal(t, 0, last.ClockSeconds)

	assert.ErrorIs(t, s.Tick(), ErrNotRunning)
	assert.ErrorIs(t, s.Start(), ErrClockExpired)
	assert.ErrorIs(t, s.Start(), ErrInvalidCommand)
}

// Test the shot clock floors at zero while the game clock keeps running
func TestSession_ShotClockFloorsAtZero(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.ResetShotClock(1))
	require.NoError(t, s.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick())
	}

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.ShotClock)
	assert.Equal(t, 11, snap.ClockMinutes)
	assert.Equal(t, 57, snap.ClockSeconds)
	assert.True(t, snap.Running)
}

// Test sixty ticks from m:00 borrow exactly one minute
func TestSession_SixtyTicksBorrowOneMinute(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.SetClock(5, 0))
	require.NoError(t, s.Start())

	for i := 0; i < 60; i++ {
		require.NoError(t, s.Tick())
		snap := s.Snapshot()
		require.GreaterOrEqual(t, snap.ClockMinutes, 0)
		require.GreaterOrEqual(t, snap.ClockSeconds, 0)
		require.GreaterOrEqual(t, snap.ShotClock, 0)
	}

	snap := s.Snapshot()
	assert.Equal(t, 4, snap.ClockMinutes)
	assert.Equal(t, 0, snap.ClockSeconds)
}

// Test a full shot clock reset runs down to zero and stays there
func TestSession_ShotClockResetThenTwentyFiveTicks(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.ResetShotClock(24))
	require.NoError(t, s.Start())

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Tick())
	}
	assert.Equal(t, 0, s.Snapshot().ShotClock)
}

// Test tick on a stopped clock is rejected without an event
func TestSession_TickWhenStopped(t *testing.T) {
	s, pub, _ := newTestSession(t)

	assert.ErrorIs(t, s.Tick(), ErrNotRunning)
	assert.Empty(t, pub.Events())
}

// Test start and stop are idempotent
func TestSession_StartStopIdempotent(t *testing.T) {
	s, pub, _ := newTestSession(t)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Len(t, pub.Events(), 1, "second start should not publish")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Len(t, pub.Events(), 2, "second stop should not publish")
	assert.False(t, pub.Last().Running)
}

// Test final scores do not depend on the order points arrive in
func TestSession_ScoresCommute(t *testing.T) {
	deltas := []struct {
		side   Side
		amount int
	}{
		{SideHome, 2}, {SideAway, 3}, {SideHome, 1}, {SideHome, -1}, {SideAway, 2}, {SideHome, 3},
	}

	forward, _, _ := newTestSession(t)
	for _, d := range deltas {
		require.NoError(t, forward.AddPoints(d.side, d.amount, nil))
	}
	backward, _, _ := newTestSession(t)
	for i := len(deltas) - 1; i >= 0; i-- {
		require.NoError(t, backward.AddPoints(deltas[i].side, deltas[i].amount, nil))
	}

	a, b := forward.Snapshot(), backward.Snapshot()
	assert.Equal(t, 5, a.HomeScore)
	assert.Equal(t, 5, a.AwayScore)
	assert.Equal(t, a.HomeScore, b.HomeScore)
	assert.Equal(t, a.AwayScore, b.AwayScore)
}

// Test interleaved mutations of two sessions never cross
func TestSession_Isolation(t *testing.T) {
	a, pubA, _ := newTestSession(t)
	b, pubB, _ := newTestSession(t)

	require.NoError(t, a.Start())
	require.NoError(t, b.AddPoints(SideAway, 3, nil))
	require.NoError(t, a.Tick())
	require.NoError(t, a.AddPoints(SideHome, 2, nil))
	require.NoError(t, b.SetPeriod(3))

	sa, sb := a.Snapshot(), b.Snapshot()
	assert.Equal(t, 2, sa.HomeScore)
	assert.Equal(t, 0, sa.AwayScore)
	assert.Equal(t, 1, sa.Period)
	assert.Equal(t, 59, sa.ClockSeconds)

	assert.Equal(t, 0, sb.HomeScore)
	assert.Equal(t, 3, sb.AwayScore)
	assert.Equal(t, 3, sb.Period)
	assert.Equal(t, 0, sb.ClockSeconds)
	assert.False(t, sb.Running)

	for _, ev := range pubA.Events() {
		assert.Equal(t, sa.GameID, ev.GameID)
	}
	for _, ev := range pubB.Events() {
		assert.Equal(t, sb.GameID, ev.GameID)
	}
}

// Test points credit both the team and the player
func TestSession_AddPoints(t *testing.T) {
	s, pub, _ := newTestSession(t)
	p1 := uuid.New()

	require.NoError(t, s.AddPoints(SideHome, 2, &p1))

	ev := pub.Last()
	assert.Equal(t, EventTypeStatUpdate, ev.Type)
	require.NotNil(t, ev.StatUpdate)
	assert.Equal(t, 2, ev.HomeScore)
	assert.Equal(t, 0, ev.AwayScore)
	require.NotNil(t, ev.PlayerID)
	assert.Equal(t, p1, *ev.PlayerID)
	assert.Equal(t, 2, ev.PointsAdded)
	assert.Nil(t, ev.TimerUpdate)

	require.NoError(t, s.AddPoints(SideAway, 3, nil))
	ev = pub.Last()
	assert.Equal(t, 2, ev.HomeScore)
	assert.Equal(t, 3, ev.AwayScore)
	assert.Nil(t, ev.PlayerID)

	snap := s.Snapshot()
	assert.Equal(t, StatLine{Points: 2}, snap.Tallies[p1])
}

// Test corrections may lower a score but never below zero
func TestSession_AddPointsCorrection(t *testing.T) {
	s, pub, _ := newTestSession(t)
	require.NoError(t, s.AddPoints(SideHome, 3, nil))

	require.NoError(t, s.AddPoints(SideHome, -1, nil))
	assert.Equal(t, 2, s.Snapshot().HomeScore)

	before := len(pub.Events())
	err := s.AddPoints(SideHome, -5, nil)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Equal(t, 2, s.Snapshot().HomeScore)
	assert.Len(t, pub.Events(), before, "rejected correction should not publish")
}

// Test invalid sides are rejected
func TestSession_AddPointsInvalidSide(t *testing.T) {
	s, pub, _ := newTestSession(t)

	assert.ErrorIs(t, s.AddPoints(Side("middle"), 2, nil), ErrInvalidCommand)
	assert.Empty(t, pub.Events())
}

// Test fouls accumulate on the player tally
func TestSession_AddFoul(t *testing.T) {
	s, pub, _ := newTestSession(t)
	p1 := uuid.New()

	require.NoError(t, s.AddFoul(p1))
	require.NoError(t, s.AddFoul(p1))

	ev := pub.Last()
	assert.Equal(t, EventTypeStatUpdate, ev.Type)
	assert.Equal(t, 1, ev.FoulsAdded)
	assert.Equal(t, 0, ev.PointsAdded)
	assert.Equal(t, StatLine{Fouls: 2}, s.Snapshot().Tallies[p1])

	assert.ErrorIs(t, s.AddFoul(uuid.Nil), ErrInvalidCommand)
}

// Test players outside the roster are refused without touching state
func TestSession_RosterChecks(t *testing.T) {
	game := testGame()
	home, away, players := rosterFor(game)
	pub := newRecordingPublisher()
	s := NewSession(game, SessionConfig{
		Rules:     DefaultRules(),
		Clock:     clockwork.NewFakeClock(),
		Publisher: pub,
		Roster:    RosterSides(game, players),
	})
	t.Cleanup(s.Close)

	require.NoError(t, s.AddPoints(SideHome, 2, &home.ID))
	require.NoError(t, s.AddFoul(away.ID))
	before := len(pub.Events())

	stranger := uuid.New()
	assert.ErrorIs(t, s.AddPoints(SideHome, 2, &stranger), ErrInvalidCommand)
	assert.ErrorIs(t, s.AddFoul(stranger), ErrInvalidCommand)
	assert.ErrorIs(t, s.AddPoints(SideHome, 3, &away.ID), ErrInvalidCommand, "points go to the player's own side")

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.HomeScore)
	assert.Equal(t, 0, snap.AwayScore)
	assert.NotContains(t, snap.Tallies, stranger)
	assert.Equal(t, StatLine{Fouls: 1}, snap.Tallies[away.ID])
	assert.Len(t, pub.Events(), before, "rejected commands should not publish")
}

// Test scores and tallies stay within what the store can hold
func TestSession_AddPointsBounds(t *testing.T) {
	s, pub, _ := newTestSession(t)
	p1 := uuid.New()

	assert.ErrorIs(t, s.AddPoints(SideHome, MaxScore+1, nil), ErrInvalidCommand)
	assert.ErrorIs(t, s.AddPoints(SideHome, math.MinInt, nil), ErrInvalidCommand)

	require.NoError(t, s.AddPoints(SideHome, MaxScore-1, &p1))
	assert.ErrorIs(t, s.AddPoints(SideHome, 2, nil), ErrInvalidCommand)
	require.NoError(t, s.AddPoints(SideHome, 1, nil))

	require.NoError(t, s.AddPoints(SideAway, 5, nil))
	require.NoError(t, s.AddPoints(SideHome, -5, nil))
	assert.ErrorIs(t, s.AddPoints(SideHome, 5, &p1), ErrInvalidCommand, "player tally would pass the bound")

	snap := s.Snapshot()
	assert.Equal(t, MaxScore-5, snap.HomeScore)
	assert.Equal(t, StatLine{Points: MaxScore - 1}, snap.Tallies[p1])
	assert.Equal(t, MaxScore-5, pub.Last().HomeScore)
}

// Test every event and snapshot carries the session's epoch
func TestSession_Epoch(t *testing.T) {
	s, pub, _ := newTestSession(t)
	other, _, _ := newTestSession(t)
	require.NotEqual(t, uuid.Nil, s.Epoch())
	assert.NotEqual(t, s.Epoch(), other.Epoch())

	require.NoError(t, s.AddPoints(SideHome, 2, nil))
	require.NoError(t, s.Start())
	for _, ev := range pub.Events() {
		assert.Equal(t, s.Epoch(), ev.Epoch)
	}
	snap := s.Snapshot()
	assert.Equal(t, s.Epoch(), snap.Epoch)
	for _, ev := range snap.Events() {
		assert.Equal(t, s.Epoch(), ev.Epoch)
	}
}

// Test shot clock resets accept the rule values and reject out of range
func TestSession_ResetShotClock(t *testing.T) {
	s, pub, _ := newTestSession(t)

	require.NoError(t, s.ResetShotClock(14))
	assert.Equal(t, 14, pub.Last().ShotClock)
	require.NoError(t, s.ResetShotClock(24))
	assert.Equal(t, 24, pub.Last().ShotClock)

	assert.ErrorIs(t, s.ResetShotClock(-1), ErrInvalidCommand)
	assert.ErrorIs(t, s.ResetShotClock(25), ErrInvalidCommand)
	assert.Equal(t, 24, s.Snapshot().ShotClock)
}

// Test set_period clamps to at least one and leaves the clock alone
func TestSession_SetPeriod(t *testing.T) {
	s, pub, _ := newTestSession(t)
	require.NoError(t, s.SetClock(3, 15))

	require.NoError(t, s.SetPeriod(3))
	assert.Equal(t, 3, pub.Last().TimerUpdate.Period)
	assert.Equal(t, 3, pub.Last().ClockMinutes)
	assert.Equal(t, 15, pub.Last().ClockSeconds)

	require.NoError(t, s.SetPeriod(0))
	assert.Equal(t, 1, s.Snapshot().Period)
	require.NoError(t, s.SetPeriod(-4))
	assert.Equal(t, 1, s.Snapshot().Period)
}

// Test set_clock bounds follow the period length including overtime
func TestSession_SetClock(t *testing.T) {
	s, _, _ := newTestSession(t)

	require.NoError(t, s.SetClock(12, 0))
	assert.ErrorIs(t, s.SetClock(12, 1), ErrInvalidCommand)
	assert.ErrorIs(t, s.SetClock(5, 60), ErrInvalidCommand)
	assert.ErrorIs(t, s.SetClock(-1, 0), ErrInvalidCommand)

	require.NoError(t, s.SetPeriod(5))
	assert.ErrorIs(t, s.SetClock(6, 0), ErrInvalidCommand, "overtime periods are shorter")
	require.NoError(t, s.SetClock(5, 0))
}

// Test end persists first and leaves the session untouched on failure
func TestSession_EndFailureLeavesState(t *testing.T) {
	s, pub, _ := newTestSession(t)
	require.NoError(t, s.AddPoints(SideHome, 2, nil))
	require.NoError(t, s.Start())
	before := len(pub.Events())

	_, err := s.End(context.Background(), func(context.Context, FinalResult) error {
		return errors.New("db down")
	})
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Len(t, pub.Events(), before)
	assert.NoError(t, s.AddPoints(SideAway, 1, nil))
}

// Test end publishes final events and rejects later mutations
func TestSession_End(t *testing.T) {
	s, pub, _ := newTestSession(t)
	p1 := uuid.New()
	require.NoError(t, s.AddPoints(SideHome, 3, &p1))
	require.NoError(t, s.Start())

	var persisted FinalResult
	result, err := s.End(context.Background(), func(_ context.Context, r FinalResult) error {
		persisted = r
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, persisted, result)
	assert.Equal(t, 3, result.HomeScore)
	assert.Equal(t, StatLine{Points: 3}, result.Tallies[p1])

	events := pub.Events()
	timer := events[len(events)-2]
	final := events[len(events)-1]
	assert.Equal(t, StatusEnded, timer.Status)
	assert.False(t, timer.Running)
	assert.True(t, final.Final)
	assert.Equal(t, 3, final.HomeScore)

	assert.ErrorIs(t, s.Start(), ErrSessionEnded)
	assert.ErrorIs(t, s.AddPoints(SideHome, 1, nil), ErrSessionEnded)
	assert.ErrorIs(t, s.AddFoul(p1), ErrInvalidCommand)
	assert.ErrorIs(t, s.Tick(), ErrSessionEnded)
	_, err = s.End(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Len(t, pub.Events(), len(events), "ended session should not publish")
}

// Test every published event carries a strictly increasing seq
func TestSession_SeqIncreases(t *testing.T) {
	s, pub, _ := newTestSession(t)
	p1 := uuid.New()

	require.NoError(t, s.Start())
	require.NoError(t, s.Tick())
	require.NoError(t, s.AddPoints(SideHome, 2, &p1))
	require.NoError(t, s.AddFoul(p1))
	require.NoError(t, s.Stop())

	events := pub.Events()
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, s.GameID(), ev.GameID)
	}
	assert.Equal(t, uint64(len(events)), s.Snapshot().Seq)
}

// Test concurrent commands serialize and every one is reflected
func TestSession_ConcurrentCommands(t *testing.T) {
	s, pub, _ := newTestSession(t)
	p1 := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddPoints(SideHome, 2, &p1))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddFoul(p1))
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, 100, snap.HomeScore)
	assert.Equal(t, StatLine{Points: 100, Fouls: 50}, snap.Tallies[p1])

	events := pub.Events()
	require.Len(t, events, 100)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq, "events should arrive in mutation order")
	}
}

// Test observe sees the state and no events interleave with it
func TestSession_Observe(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.AddPoints(SideAway, 2, nil))

	var seen Snapshot
	s.Observe(func(snap Snapshot) {
		seen = snap
	})
	assert.Equal(t, 2, seen.AwayScore)
	assert.Equal(t, uint64(1), seen.Seq)

	events := seen.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeTimerUpdate, events[0].Type)
	assert.Equal(t, EventTypeStatUpdate, events[1].Type)
	assert.Equal(t, 2, events[1].AwayScore)
}

package live

import "fmt"

// Rules are the league timing constants a session is created with.
type Rules struct {
	PeriodMinutes             int `yaml:"period_minutes"`
	Periods                   int `yaml:"periods"`
	OvertimeMinutes           int `yaml:"overtime_minutes"`
	ShotClock                 int `yaml:"shot_clock"`
	OffensiveReboundShotClock int `yaml:"offensive_rebound_shot_clock"`
}

// DefaultRules returns the standard 4x12 game with a 24/14 shot clock.
func DefaultRules() Rules {
	return Rules{
		PeriodMinutes:             12,
		Periods:                   4,
		OvertimeMinutes:           5,
		ShotClock:                 24,
		OffensiveReboundShotClock: 14,
	}
}

// Validate checks the rules are usable.
func (r Rules) Validate() error {
	if r.PeriodMinutes <= 0 {
		return fmt.Errorf("period_minutes must be positive, got %d", r.PeriodMinutes)
	}
	if r.Periods <= 0 {
		return fmt.Errorf("periods must be positive, got %d", r.Periods)
	}
	if r.OvertimeMinutes < 0 {
		return fmt.Errorf("overtime_minutes must not be negative, got %d", r.OvertimeMinutes)
	}
	if r.ShotClock <= 0 {
		return fmt.Errorf("shot_clock must be positive, got %d", r.ShotClock)
	}
	if r.OffensiveReboundShotClock <= 0 || r.OffensiveReboundShotClock > r.ShotClock {
		return fmt.Errorf("offensive_rebound_shot_clock must be in (0, %d], got %d", r.ShotClock, r.OffensiveReboundShotClock)
	}
	return nil
}

// PeriodLength returns the clock length in minutes for a period; overtime
// periods use OvertimeMinutes when it is set.
func (r Rules) PeriodLength(period int) int {
	if period > r.Periods && r.OvertimeMinutes > 0 {
		return r.OvertimeMinutes
	}
	return r.PeriodMinutes
}

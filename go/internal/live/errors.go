package live

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a command references a game that has no persisted record.
	ErrNotFound = errors.New("game not found")
	// ErrInvalidCommand is the parent of every argument or state rejection.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrNotRunning is returned by Tick when the clock is stopped.
	ErrNotRunning = errors.New("clock is not running")
)

var (
	ErrSessionEnded = fmt.Errorf("%w: session has ended", ErrInvalidCommand)
	ErrGameFinal    = fmt.Errorf("%w: game is already final", ErrInvalidCommand)
	ErrClockExpired = fmt.Errorf("%w: period clock is at 0:00", ErrInvalidCommand)

	// errSessionRetired marks a session evicted for idleness after a caller obtained it.
	errSessionRetired = fmt.Errorf("%w: session retired", ErrSessionEnded)
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

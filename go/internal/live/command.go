package live

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
)

// CommandType names an operator command.
type CommandType string

const (
	CommandStart          CommandType = "start"
	CommandStop           CommandType = "stop"
	CommandAddPoints      CommandType = "add_points"
	CommandAddFoul        CommandType = "add_foul"
	CommandResetShotClock CommandType = "reset_shot_clock"
	CommandSetPeriod      CommandType = "set_period"
	CommandSetClock       CommandType = "set_clock"
	CommandEnd            CommandType = "end"
)

// Command is an operator command as it arrives over the wire.
type Command struct {
	Type     CommandType `json:"type"`
	Side     Side        `json:"side,omitempty"`
	Amount   json.Number `json:"amount,omitempty"`
	PlayerID *uuid.UUID  `json:"player_id,omitempty"`
	Seconds  *int        `json:"seconds,omitempty"`
	Minutes  *int        `json:"minutes,omitempty"`
	Period   *int        `json:"period,omitempty"`
}

// ParseCommand decodes a command and validates its arguments. Decoding
// failures are reported as ErrInvalidCommand.
func ParseCommand(data []byte) (Command, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, invalidf("malformed command: %v", err)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Validate checks that the command carries the arguments its type needs.
// Range checks that depend on session state happen in the session.
func (c Command) Validate() error {
	switch c.Type {
	case CommandStart, CommandStop, CommandEnd:
		return nil
	case CommandAddPoints:
		if !c.Side.valid() {
			return invalidf("side must be %q or %q", SideHome, SideAway)
		}
		_, err := c.amount()
		return err
	case CommandAddFoul:
		if c.PlayerID == nil || *c.PlayerID == uuid.Nil {
			return invalidf("add_foul requires player_id")
		}
		return nil
	case CommandResetShotClock:
		if c.Seconds == nil {
			return invalidf("reset_shot_clock requires seconds")
		}
		return nil
	case CommandSetPeriod:
		if c.Period == nil {
			return invalidf("set_period requires period")
		}
		return nil
	case CommandSetClock:
		if c.Minutes == nil || c.Seconds == nil {
			return invalidf("set_clock requires minutes and seconds")
		}
		return nil
	case "":
		return invalidf("command type is required")
	default:
		return invalidf("unknown command type %q", c.Type)
	}
}

// amount returns the integer points of an add_points command. Fractional
// and non-numeric amounts are rejected.
func (c Command) amount() (int, error) {
	if c.Amount == "" {
		return 0, invalidf("add_points requires amount")
	}
	n, err := strconv.Atoi(c.Amount.String())
	if err != nil {
		return 0, invalidf("amount must be an integer, got %s", c.Amount)
	}
	return n, nil
}

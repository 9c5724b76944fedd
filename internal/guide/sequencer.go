// Package guide steps through an ordered list of guide forms. Steps advance
// on a hand dwelling in an activation zone or on remote step commands.
package guide

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/tablecast/internal/playfield"
)

var (
	ErrNoSteps        = errors.New("guide: sequencer needs at least one step")
	ErrUnknownCommand = errors.New("guide: unknown command")
)

// Sequencer cycles through steps. The state wraps in both directions.
// It is not safe for concurrent use.
type Sequencer struct {
	steps []playfield.Form
	state int
}

// NewSequencer returns a sequencer positioned at the first step.
func NewSequencer(steps ...playfield.Form) (*Sequencer, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("guide: step %d is nil", i)
		}
	}
	return &Sequencer{steps: append([]playfield.Form(nil), steps...)}, nil
}

// Next advances one step and returns the new state.
func (s *Sequencer) Next() int {
	s.state = (s.state + 1) % len(s.steps)
	return s.state
}

// Back goes back one step and returns the new state.
func (s *Sequencer) Back() int {
	n := len(s.steps)
	s.state = (s.state - 1 + n) % n
	return s.state
}

func (s *Sequencer) State() int              { return s.state }
func (s *Sequencer) Len() int                { return len(s.steps) }
func (s *Sequencer) Current() playfield.Form { return s.steps[s.state] }

// Command is a remote step instruction.
type Command int

const (
	CommandNext Command = iota + 1
	CommandBack
)

func (c Command) String() string {
	switch c {
	case CommandNext:
		return "next"
	case CommandBack:
		return "back"
	default:
		return "unknown"
	}
}

// ParseCommand accepts "next" and "back" as well as the spoken German
// "weiter" and "zurück", case-insensitively.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "next", "weiter":
		return CommandNext, nil
	case "back", "zurück", "zurueck":
		return CommandBack, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Apply runs cmd against the sequencer and returns the new state.
func (s *Sequencer) Apply(cmd Command) (int, error) {
	switch cmd {
	case CommandNext:
		return s.Next(), nil
	case CommandBack:
		return s.Back(), nil
	default:
		return s.state, fmt.Errorf("%w: %d", ErrUnknownCommand, cmd)
	}
}

package linkpred

import (
	"errors"
	"fmt"
	"slices"
)

type State string

const (
	StateProjected     State = "PROJECTED"
	StateFeaturesBuilt State = "FEATURES_BUILT"
	StateTrained       State = "TRAINED"
	StateBestSelected  State = "BEST_SELECTED"
	StateScored        State = "SCORED"
	StateExported      State = "EXPORTED"
	StateSkipped       State = "SKIPPED"
)

var ErrInvalidTransition = errors.New("invalid link prediction state transition")

var transitions = map[State]State{
	StateProjected:     StateFeaturesBuilt,
	StateFeaturesBuilt: StateTrained,
	StateTrained:       StateBestSelected,
	StateBestSelected:  StateScored,
	StateScored:        StateExported,
}

// Tracker follows one window through the link prediction stages. SKIPPED can
// be entered from any non-terminal state and is terminal.
type Tracker struct {
	window  string
	state   State
	history []State
}

func NewTracker(window string) *Tracker {
	return &Tracker{window: window, state: StateProjected, history: []State{StateProjected}}
}

func (t *Tracker) State() State {
	return t.state
}

func (t *Tracker) History() []State {
	return slices.Clone(t.history)
}

func (t *Tracker) Terminal() bool {
	return t.state == StateExported || t.state == StateSkipped
}

func (t *Tracker) Advance(to State) error {
	switch {
	case to == StateSkipped && !t.Terminal():
	case transitions[t.state] == to:
	default:
		return fmt.Errorf("%w: %s -> %s in %s", ErrInvalidTransition, t.state, to, t.window)
	}
	t.state = to
	t.history = append(t.history, to)
	return nil
}

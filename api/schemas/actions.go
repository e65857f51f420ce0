package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ActionType discriminates the closed set of action kinds the planner may
// produce. Anything outside this set is rejected at the parse boundary and
// never reaches the executor.
type ActionType string

const (
	ActionClick        ActionType = "CLICK"
	ActionTypeText     ActionType = "TYPE"
	ActionKey          ActionType = "KEY"
	ActionWait         ActionType = "WAIT"
	ActionShellCommand ActionType = "SHELL_COMMAND"
	ActionDone         ActionType = "DONE"
	ActionFail         ActionType = "FAIL"
)

// Action is the tagged union over everything the agent can do in one step.
// One struct with per-kind fields keeps the wire format flat; Validate
// enforces that the fields required by the kind are present. Immutable once
// parsed, consumed exactly once by the control loop.
type Action struct {
	Type ActionType `json:"action"`

	// Click target.
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// Text payload for TYPE and the command line for SHELL_COMMAND.
	Text string `json:"text,omitempty"`

	// Symbolic key name for KEY.
	Key string `json:"key,omitempty"`

	// Sleep length for WAIT.
	Seconds float64 `json:"seconds,omitempty"`

	// Reason for FAIL and, optionally, DONE.
	Reason string `json:"reason,omitempty"`

	// Rationale is the planner's free-text justification. Logged, never
	// acted on.
	Rationale string `json:"rationale,omitempty"`
}

// FailAction builds the terminal failure action with the given reason.
func FailAction(reason string) Action {
	return Action{Type: ActionFail, Reason: reason}
}

// Terminal reports whether this action ends the run.
func (a Action) Terminal() bool {
	return a.Type == ActionDone || a.Type == ActionFail
}

// Validate checks kind-specific well-formedness. Coordinate bounds are the
// validator's job at execution time; this only guards structural gaps like a
// TYPE with no text.
func (a Action) Validate() error {
	switch a.Type {
	case ActionClick:
		return nil
	case ActionTypeText:
		if a.Text == "" {
			return fmt.Errorf("TYPE action requires text")
		}
	case ActionKey:
		if a.Key == "" {
			return fmt.Errorf("KEY action requires a key name")
		}
	case ActionWait:
		if a.Seconds <= 0 {
			return fmt.Errorf("WAIT action requires positive seconds, got %v", a.Seconds)
		}
	case ActionShellCommand:
		if strings.TrimSpace(a.Text) == "" {
			return fmt.Errorf("SHELL_COMMAND action requires a command")
		}
	case ActionDone, ActionFail:
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Type)
	}
	return nil
}

// WaitDuration converts the WAIT payload to a duration.
func (a Action) WaitDuration() time.Duration {
	return time.Duration(a.Seconds * float64(time.Second))
}

// Summary renders the action as one short line for logs and planner context.
func (a Action) Summary() string {
	switch a.Type {
	case ActionClick:
		return fmt.Sprintf("CLICK(%d,%d)", a.X, a.Y)
	case ActionTypeText:
		return fmt.Sprintf("TYPE(%q)", truncate(a.Text, 40))
	case ActionKey:
		return fmt.Sprintf("KEY(%s)", a.Key)
	case ActionWait:
		return fmt.Sprintf("WAIT(%.1fs)", a.Seconds)
	case ActionShellCommand:
		return fmt.Sprintf("SHELL(%s)", truncate(a.Text, 60))
	case ActionDone:
		return "DONE"
	case ActionFail:
		return fmt.Sprintf("FAIL(%s)", truncate(a.Reason, 60))
	default:
		return string(a.Type)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package schemas

import (
	"context"
	"time"
)

// -- Planner collaborator --

// PlanRequest is the context bundle sent to the external planner for the next
// action decision.
type PlanRequest struct {
	Goal           string   `json:"goal"`
	ScreenSummary  string   `json:"screen_summary"`
	ChangedRegions []Region `json:"changed_regions,omitempty"`
	RecentActions  []string `json:"recent_actions,omitempty"`
	Cwd            string   `json:"cwd,omitempty"`
}

// AnalyzeRequest asks the planner to judge whether a command logically
// succeeded. Exit code 0 is not sufficient evidence on its own.
type AnalyzeRequest struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// RecoverRequest is the narrower, failure-specific prompt used after a failed
// step. Cwd lets recovered commands operate in the right working context.
type RecoverRequest struct {
	Goal         string          `json:"goal"`
	FailedAction Action          `json:"failed_action"`
	Analysis     FailureAnalysis `json:"analysis"`
	Cwd          string          `json:"cwd,omitempty"`
}

// Planner is the remote model collaborator. All three calls carry client-side
// timeouts and must degrade gracefully; a transport-level retry inside an
// implementation is not an automation step.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (Action, error)
	Analyze(ctx context.Context, req AnalyzeRequest) (FailureAnalysis, error)
	Recover(ctx context.Context, req RecoverRequest) (Action, error)
}

// -- Frame source collaborator --

// FrameSource captures the current screen contents. Capture failure is
// treated by the loop as a planner-unavailable-equivalent error for the cycle.
type FrameSource interface {
	Capture(ctx context.Context) (*Frame, error)
}

// -- Actuator collaborator --

// Actuator dispatches synthetic input events to the desktop. Implementations
// must enforce their own dispatch timeouts; local automation tools can hang.
type Actuator interface {
	MoveAndClick(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, name string) error
	// ScreenSize reports the known desktop bounds used for coordinate
	// validation.
	ScreenSize() (width, height int)
}

// -- Session shell --

// CommandSession is a long-lived interactive interpreter that preserves
// working directory, environment and file-system state across Run calls. One
// control loop run owns exactly one session; shell actions never spawn
// throwaway interpreters.
type CommandSession interface {
	Run(ctx context.Context, command string, timeout time.Duration) (CommandResult, error)
	Cwd() string
	Terminate() error
}

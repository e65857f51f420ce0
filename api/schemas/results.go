package schemas

import "time"

// CommandResult is what one session shell invocation produced. Not retained
// beyond the current step except as context for the next recovery prompt.
type CommandResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Cwd      string        `json:"cwd"`
	Duration time.Duration `json:"duration"`
}

// Canonical issue classifications carried in FailureAnalysis. The control
// loop branches on these, never on raw error text.
const (
	IssueTimeout            = "timeout"
	IssueDesynchronized     = "shell desynchronized"
	IssueAnalyzerDegraded   = "analyzer degraded"
	IssuePlannerUnavailable = "planner unavailable"
	IssueNonZeroExit        = "non-zero exit"
	IssueActuatorFailure    = "actuator failure"
	IssueInvalidAction      = "invalid action"
	IssueSkipped            = "skipped"
)

// FailureAnalysis is the analyzer's structured verdict on one step. Reason is
// human-readable; Issue is one of the canonical constants above.
type FailureAnalysis struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
	Issue   string `json:"issue,omitempty"`
}

// OutcomeKind classifies how an action execution went.
type OutcomeKind string

const (
	// OutcomeSuccess means the dispatch completed. For shell commands this
	// is a transport-level statement only; logical success is the
	// analyzer's verdict.
	OutcomeSuccess OutcomeKind = "SUCCESS"
	// OutcomeSkipped means the action was rejected before dispatch (out of
	// bounds). Charged to the step budget, never to the error budget.
	OutcomeSkipped OutcomeKind = "SKIPPED"
	OutcomeFailed  OutcomeKind = "FAILED"
)

// ExecutionOutcome is the executor's report for one dispatched action.
// Command is set only for shell actions.
type ExecutionOutcome struct {
	Kind    OutcomeKind
	Detail  string
	Command *CommandResult
}

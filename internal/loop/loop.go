// File: internal/loop/loop.go
package loop

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
	"github.com/xkilldash9x/marionette-cli/internal/planner"
	"github.com/xkilldash9x/marionette-cli/internal/vision"
)

// State names the current phase of the perceive-plan-act-recover cycle.
type State string

const (
	StateIdle       State = "IDLE"
	StatePerceiving State = "PERCEIVING"
	StatePlanning   State = "PLANNING"
	StateValidating State = "VALIDATING"
	StateExecuting  State = "EXECUTING"
	StateAnalyzing  State = "ANALYZING"
	StateRecovering State = "RECOVERING"
	StateTerminated State = "TERMINATED"
)

// Terminal reasons surfaced to callers. The breaker and the budget are
// independent guards and carry distinct reasons.
const (
	ReasonBreakerTripped  = "too many consecutive errors"
	ReasonBudgetExhausted = "step budget exhausted"
	ReasonCancelled       = "run cancelled"
)

// ActionExecutor dispatches one validated action. Satisfied by
// executor.Executor; narrowed to an interface so loop tests can stub outcomes.
type ActionExecutor interface {
	Execute(ctx context.Context, action schemas.Action) schemas.ExecutionOutcome
}

// Status is a point-in-time snapshot of one run.
type Status struct {
	State      State  `json:"state"`
	StepCount  int    `json:"step_count"`
	LastAction string `json:"last_action,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Success    bool   `json:"success"`
}

// Loop drives one automation run. It owns the step counter, the
// consecutive-error counter, the recent-action window and the previous frame;
// collaborators are held behind interfaces and never reached around.
//
// The consecutive-error counter resets to zero on any successful step and is
// the sole input to the circuit breaker. An out-of-bounds click is charged to
// the step budget but never to the error budget.
type Loop struct {
	cfg       config.LoopConfig
	visionCfg config.VisionConfig

	planner  schemas.Planner
	analyzer planner.ResultAnalyzer
	frames   schemas.FrameSource
	detector *vision.Detector
	exec     ActionExecutor
	session  schemas.CommandSession
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	stepCount  int
	errCount   int
	recent     []string
	lastAction string
	reason     string
	success    bool

	prevFrame *schemas.Frame
}

// New assembles a loop for a single run.
func New(
	cfg config.LoopConfig,
	visionCfg config.VisionConfig,
	pl schemas.Planner,
	analyzer planner.ResultAnalyzer,
	frames schemas.FrameSource,
	detector *vision.Detector,
	exec ActionExecutor,
	session schemas.CommandSession,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		cfg:       cfg,
		visionCfg: visionCfg,
		planner:   pl,
		analyzer:  analyzer,
		frames:    frames,
		detector:  detector,
		exec:      exec,
		session:   session,
		logger:    logger.Named("control_loop"),
		state:     StateIdle,
		recent:    make([]string, 0, cfg.RecentActions),
	}
}

// Status returns a snapshot safe to read while the run is in flight.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:      l.state,
		StepCount:  l.stepCount,
		LastAction: l.lastAction,
		Reason:     l.reason,
		Success:    l.success,
	}
}

// Run executes the cycle until a terminal state. The session is terminated
// and the retained frame dropped on every exit path, including panics
// propagating out of collaborators.
func (l *Loop) Run(ctx context.Context, goal string, maxSteps int) error {
	if maxSteps <= 0 {
		maxSteps = l.cfg.MaxSteps
	}
	defer l.cleanup()

	l.logger.Info("Run starting", zap.String("goal", goal), zap.Int("max_steps", maxSteps))

	idleCycles := 0
	for {
		if ctx.Err() != nil {
			l.terminate(false, ReasonCancelled)
			return ctx.Err()
		}
		if l.steps() >= maxSteps {
			l.terminate(false, ReasonBudgetExhausted)
			return nil
		}

		l.setState(StatePerceiving)
		report, summary, err := l.perceive(ctx)
		if err != nil {
			l.logger.Warn("Frame capture failed for this cycle", zap.Error(err))
			if l.recordFailure() {
				l.terminate(false, ReasonBreakerTripped)
				return nil
			}
			continue
		}

		// An unchanged screen before the first action means the desktop is
		// still settling; skip planning, bounded so a static screen cannot
		// stall the run forever.
		if l.steps() == 0 && report.ChangedFraction < l.visionCfg.MinChangedFraction &&
			idleCycles < l.visionCfg.MaxIdleCycles {
			idleCycles++
			l.logger.Debug("Idle screen, skipping planning cycle",
				zap.Float64("changed_fraction", report.ChangedFraction),
				zap.Int("idle_cycles", idleCycles))
			l.pause(ctx, l.cfg.WaitCooldown)
			continue
		}

		l.setState(StatePlanning)
		action, err := l.planner.Plan(ctx, schemas.PlanRequest{
			Goal:           goal,
			ScreenSummary:  summary,
			ChangedRegions: report.Regions,
			RecentActions:  l.recentActions(),
			Cwd:            l.session.Cwd(),
		})
		if err != nil {
			l.logger.Warn("Planner unavailable", zap.Error(err))
			if l.recordFailure() {
				l.terminate(false, ReasonBreakerTripped)
				return nil
			}
			// Synthetic analysis so recovery can still address the outage.
			analysis := schemas.FailureAnalysis{Success: false, Reason: err.Error(), Issue: schemas.IssuePlannerUnavailable}
			action, err = l.recover(ctx, goal, schemas.Action{}, analysis)
			if err != nil {
				if l.recordFailure() {
					l.terminate(false, ReasonBreakerTripped)
					return nil
				}
				continue
			}
		}

		if done := l.attempt(ctx, goal, maxSteps, action); done {
			// Non-nil only when the attempt terminated due to cancellation.
			return ctx.Err()
		}
	}
}

// attempt runs the Validating→Executing→Analyzing→{Recovering→Validating}
// inner cycle for one planned action. Recovery re-enters validation without a
// new planning cycle; every executed action, recovered or not, advances the
// step budget. Returns true when the run reached a terminal state.
func (l *Loop) attempt(ctx context.Context, goal string, maxSteps int, action schemas.Action) bool {
	for {
		if ctx.Err() != nil {
			l.terminate(false, ReasonCancelled)
			return true
		}

		l.setState(StateValidating)
		if err := action.Validate(); err != nil {
			l.logger.Warn("Planned action rejected by validation",
				zap.String("action", action.Summary()), zap.Error(err))
			if l.recordFailure() {
				l.terminate(false, ReasonBreakerTripped)
				return true
			}
			analysis := schemas.FailureAnalysis{Success: false, Reason: err.Error(), Issue: schemas.IssueInvalidAction}
			var rerr error
			action, rerr = l.recover(ctx, goal, action, analysis)
			if rerr != nil {
				if l.recordFailure() {
					l.terminate(false, ReasonBreakerTripped)
					return true
				}
				return false
			}
			continue
		}

		l.setState(StateExecuting)
		outcome := l.exec.Execute(ctx, action)
		l.advanceStep(action)

		l.setState(StateAnalyzing)
		analysis := l.judge(ctx, action, outcome)

		l.logger.Info("Step complete",
			zap.Int("step", l.steps()),
			zap.String("action", action.Summary()),
			zap.String("outcome", string(outcome.Kind)),
			zap.Bool("success", analysis.Success),
			zap.String("reason", analysis.Reason))

		switch {
		case outcome.Kind == schemas.OutcomeSkipped:
			// Planning mistake caught before dispatch; not an execution
			// failure, so the error budget is untouched.
			l.logger.Warn("Action skipped", zap.String("detail", outcome.Detail))
			return false

		case analysis.Success:
			l.recordSuccess(action)
			if action.Terminal() {
				l.terminate(action.Type == schemas.ActionDone, action.Reason)
				return true
			}
			return false

		default:
			if analysis.Issue == schemas.IssueDesynchronized {
				// The interpreter's state can no longer be trusted; no
				// recovery action can run through it safely.
				l.recordFailure()
				l.terminate(false, schemas.IssueDesynchronized)
				return true
			}
			if l.recordFailure() {
				l.terminate(false, ReasonBreakerTripped)
				return true
			}
			if l.steps() >= maxSteps {
				l.terminate(false, ReasonBudgetExhausted)
				return true
			}
			var rerr error
			action, rerr = l.recover(ctx, goal, action, analysis)
			if rerr != nil {
				if l.recordFailure() {
					l.terminate(false, ReasonBreakerTripped)
					return true
				}
				return false
			}
		}
	}
}

// judge converts an execution outcome into a FailureAnalysis. Shell commands
// that executed cleanly go to the analyzer for a logical verdict; everything
// else maps directly from the outcome kind.
func (l *Loop) judge(ctx context.Context, action schemas.Action, outcome schemas.ExecutionOutcome) schemas.FailureAnalysis {
	switch outcome.Kind {
	case schemas.OutcomeSuccess:
		if action.Type == schemas.ActionShellCommand && outcome.Command != nil {
			return l.analyzer.Analyze(ctx, action.Text, *outcome.Command)
		}
		return schemas.FailureAnalysis{Success: true, Reason: outcome.Detail}
	case schemas.OutcomeSkipped:
		return schemas.FailureAnalysis{Success: false, Reason: outcome.Detail, Issue: schemas.IssueSkipped}
	default:
		issue := schemas.IssueActuatorFailure
		switch outcome.Detail {
		case schemas.IssueTimeout, schemas.IssueDesynchronized:
			issue = outcome.Detail
		}
		reason := outcome.Detail
		if outcome.Command != nil && strings.TrimSpace(outcome.Command.Stderr) != "" {
			reason = fmt.Sprintf("%s: %s", outcome.Detail, strings.TrimSpace(outcome.Command.Stderr))
		}
		return schemas.FailureAnalysis{Success: false, Reason: reason, Issue: issue}
	}
}

// recover asks the planner for a corrected action addressing the specific
// failure. This is not a new planning cycle and resets no budgets.
func (l *Loop) recover(ctx context.Context, goal string, failed schemas.Action, analysis schemas.FailureAnalysis) (schemas.Action, error) {
	l.setState(StateRecovering)
	l.logger.Info("Requesting recovery action",
		zap.String("failed_action", failed.Summary()),
		zap.String("issue", analysis.Issue),
		zap.String("reason", analysis.Reason))

	action, err := l.planner.Recover(ctx, schemas.RecoverRequest{
		Goal:         goal,
		FailedAction: failed,
		Analysis:     analysis,
		Cwd:          l.session.Cwd(),
	})
	if err != nil {
		l.logger.Warn("Recovery planning failed", zap.Error(err))
		return schemas.Action{}, err
	}
	l.logger.Info("Recovery action planned", zap.String("action", action.Summary()))
	return action, nil
}

// perceive captures the current frame and diffs it against the previous one.
func (l *Loop) perceive(ctx context.Context) (schemas.ChangeReport, string, error) {
	frame, err := l.frames.Capture(ctx)
	if err != nil {
		return schemas.ChangeReport{}, "", fmt.Errorf("frame capture: %w", err)
	}
	report := l.detector.Detect(l.prevFrame, frame)
	l.prevFrame = frame
	return report, summarize(frame, report), nil
}

// summarize renders one frame comparison as planner-facing text.
func summarize(frame *schemas.Frame, report schemas.ChangeReport) string {
	if len(report.Regions) == 0 {
		return fmt.Sprintf("%dx%d screen, no significant change since last frame", frame.Width, frame.Height)
	}
	parts := make([]string, 0, len(report.Regions))
	for _, r := range report.Regions {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%dx%d screen, %.1f%% changed, %d region(s): %s",
		frame.Width, frame.Height, report.ChangedFraction*100, len(report.Regions), strings.Join(parts, ", "))
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stepCount
}

func (l *Loop) advanceStep(action schemas.Action) {
	l.mu.Lock()
	l.stepCount++
	l.lastAction = action.Summary()
	l.mu.Unlock()
}

func (l *Loop) recordSuccess(action schemas.Action) {
	l.mu.Lock()
	l.errCount = 0
	l.recent = append(l.recent, action.Summary())
	if len(l.recent) > l.cfg.RecentActions {
		l.recent = l.recent[len(l.recent)-l.cfg.RecentActions:]
	}
	l.mu.Unlock()
}

// recordFailure bumps the consecutive-error counter and reports whether the
// breaker threshold has been reached.
func (l *Loop) recordFailure() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errCount++
	return l.errCount >= l.cfg.BreakerThreshold
}

func (l *Loop) recentActions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.recent))
	copy(out, l.recent)
	return out
}

func (l *Loop) terminate(success bool, reason string) {
	l.mu.Lock()
	l.state = StateTerminated
	l.success = success
	l.reason = reason
	l.mu.Unlock()
	l.logger.Info("Run terminated", zap.Bool("success", success), zap.String("reason", reason))
}

func (l *Loop) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// cleanup releases run-owned resources on any exit path.
func (l *Loop) cleanup() {
	l.prevFrame = nil
	if err := l.session.Terminate(); err != nil {
		l.logger.Warn("Session termination reported an error", zap.Error(err))
	}
}

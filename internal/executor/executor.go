// File: internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/actuator"
	"github.com/xkilldash9x/marionette-cli/internal/config"
	"github.com/xkilldash9x/marionette-cli/internal/shell"
)

// Cooldowns is the adaptive settle-time policy: a static per-kind lookup
// kept as a pure function so pacing is testable and tunable without touching
// the control loop.
type Cooldowns struct {
	Click   time.Duration
	Type    time.Duration
	Wait    time.Duration
	Default time.Duration
}

// NewCooldowns builds the policy from loop configuration.
func NewCooldowns(cfg config.LoopConfig) Cooldowns {
	return Cooldowns{
		Click:   cfg.ClickCooldown,
		Type:    cfg.TypeCooldown,
		Wait:    cfg.WaitCooldown,
		Default: cfg.DefaultCooldown,
	}
}

// For returns the settle time for one action kind. Typing gets the longest
// pause: consuming applications need time to register bulk text.
func (c Cooldowns) For(kind schemas.ActionType) time.Duration {
	switch kind {
	case schemas.ActionClick:
		return c.Click
	case schemas.ActionTypeText:
		return c.Type
	case schemas.ActionWait:
		return c.Wait
	default:
		return c.Default
	}
}

// Executor translates validated Actions into physical input events or
// session shell invocations. It owns no retry logic; failures are reported
// as outcomes and the control loop decides what to do with them.
type Executor struct {
	act        schemas.Actuator
	session    schemas.CommandSession
	cooldowns  Cooldowns
	cmdTimeout time.Duration
	logger     *zap.Logger
}

// New creates an executor bound to one actuator and one command session.
func New(
	act schemas.Actuator,
	session schemas.CommandSession,
	cooldowns Cooldowns,
	cmdTimeout time.Duration,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		act:        act,
		session:    session,
		cooldowns:  cooldowns,
		cmdTimeout: cmdTimeout,
		logger:     logger.Named("action_executor"),
	}
}

// Execute dispatches one action and reports the outcome.
//
// An out-of-bounds click is Skipped, not Failed: it is a planning mistake
// caught before dispatch, and the loop must not charge it to the error
// budget. Shell commands return the full CommandResult so the analyzer can
// judge logical success; the raw exit code alone never decides the outcome.
func (e *Executor) Execute(ctx context.Context, action schemas.Action) schemas.ExecutionOutcome {
	switch action.Type {
	case schemas.ActionClick:
		w, h := e.act.ScreenSize()
		if !actuator.ValidateCoordinates(action.X, action.Y, w, h) {
			e.logger.Warn("Click rejected before dispatch",
				zap.Int("x", action.X), zap.Int("y", action.Y),
				zap.Int("screen_w", w), zap.Int("screen_h", h))
			return schemas.ExecutionOutcome{Kind: schemas.OutcomeSkipped, Detail: "out of bounds"}
		}
		if err := e.act.MoveAndClick(ctx, action.X, action.Y); err != nil {
			return schemas.ExecutionOutcome{Kind: schemas.OutcomeFailed, Detail: err.Error()}
		}
		e.settle(ctx, action.Type)
		return schemas.ExecutionOutcome{Kind: schemas.OutcomeSuccess}

	case schemas.ActionTypeText:
		if err := e.act.TypeText(ctx, action.Text); err != nil {
			return schemas.ExecutionOutcome{Kind: schemas.OutcomeFailed, Detail: err.Error()}
		}
		e.settle(ctx, action.Type)
		return schemas.ExecutionOutcome{Kind: schemas.OutcomeSuccess}

	case schemas.ActionKey:
		if err := e.act.PressKey(ctx, action.Key); err != nil {
			return schemas.ExecutionOutcome{Kind: schemas.OutcomeFailed, Detail: err.Error()}
		}
		e.settle(ctx, action.Type)
		return schemas.ExecutionOutcome{Kind: schemas.OutcomeSuccess}

	case schemas.ActionWait:
		select {
		case <-time.After(action.WaitDuration()):
		case <-ctx.Done():
		}
		return schemas.ExecutionOutcome{Kind: schemas.OutcomeSuccess}

	case schemas.ActionShellCommand:
		return e.runCommand(ctx, action.Text)

	case schemas.ActionDone, schemas.ActionFail:
		// Terminal markers pass straight through; the loop ends the run.
		return schemas.ExecutionOutcome{Kind: schemas.OutcomeSuccess, Detail: action.Reason}

	default:
		return schemas.ExecutionOutcome{
			Kind:   schemas.OutcomeFailed,
			Detail: fmt.Sprintf("unknown action kind %q", action.Type),
		}
	}
}

// runCommand delegates to the one persistent session. Spawning a throwaway
// interpreter here would silently discard cwd and environment state, so the
// session is the only path.
func (e *Executor) runCommand(ctx context.Context, command string) schemas.ExecutionOutcome {
	res, err := e.session.Run(ctx, command, e.cmdTimeout)
	switch {
	case errors.Is(err, shell.ErrTimeout):
		return schemas.ExecutionOutcome{
			Kind:    schemas.OutcomeFailed,
			Detail:  schemas.IssueTimeout,
			Command: &res,
		}
	case errors.Is(err, shell.ErrDesynchronized):
		return schemas.ExecutionOutcome{
			Kind:    schemas.OutcomeFailed,
			Detail:  schemas.IssueDesynchronized,
			Command: &res,
		}
	case err != nil:
		return schemas.ExecutionOutcome{
			Kind:    schemas.OutcomeFailed,
			Detail:  err.Error(),
			Command: &res,
		}
	}
	// Success/failure of the command is the analyzer's call, not the raw
	// exit code's; the loop runs the analyzer on this result.
	return schemas.ExecutionOutcome{Kind: schemas.OutcomeSuccess, Command: &res}
}

// settle applies the per-kind cooldown, abandoned early on cancellation.
func (e *Executor) settle(ctx context.Context, kind schemas.ActionType) {
	d := e.cooldowns.For(kind)
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

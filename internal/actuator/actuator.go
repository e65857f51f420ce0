// File: internal/actuator/actuator.go
package actuator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
)

// ExecActuator dispatches synthetic input through an xdotool-compatible
// command line tool. Every dispatch carries its own hard timeout because
// local automation tools can hang independently of anything the planner does.
type ExecActuator struct {
	cfg    config.ActuatorConfig
	logger *zap.Logger
}

var _ schemas.Actuator = (*ExecActuator)(nil)

// NewExecActuator builds the actuator from configuration.
func NewExecActuator(cfg config.ActuatorConfig, logger *zap.Logger) *ExecActuator {
	return &ExecActuator{
		cfg:    cfg,
		logger: logger.Named("actuator"),
	}
}

// ScreenSize reports the configured desktop bounds.
func (a *ExecActuator) ScreenSize() (int, int) {
	return a.cfg.ScreenWidth, a.cfg.ScreenHeight
}

// MoveAndClick moves the pointer to (x, y) and performs a left click.
// Coordinates are assumed validated by the caller; the tool would accept
// out-of-range values silently, which is exactly the waste the validator
// exists to prevent.
func (a *ExecActuator) MoveAndClick(ctx context.Context, x, y int) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ClickTimeout)
	defer cancel()
	if err := a.dispatch(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("mouse move to (%d,%d): %w", x, y, err)
	}
	if err := a.dispatch(ctx, "click", "1"); err != nil {
		return fmt.Errorf("click at (%d,%d): %w", x, y, err)
	}
	return nil
}

// TypeText dispatches keystrokes for the whole string using the tool's bulk
// type primitive. The "--" guard keeps text starting with dashes from being
// eaten as flags.
func (a *ExecActuator) TypeText(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.TypeTimeout)
	defer cancel()
	if err := a.dispatch(ctx, "type", "--", text); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

// PressKey dispatches a single symbolic key. Unknown names are rejected
// before any process is spawned so a planner typo costs nothing but a failed
// outcome.
func (a *ExecActuator) PressKey(ctx context.Context, name string) error {
	sym, ok := LookupKey(name)
	if !ok {
		return fmt.Errorf("unknown key name %q, known keys: %s", name, strings.Join(KnownKeys(), " "))
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.KeyTimeout)
	defer cancel()
	if err := a.dispatch(ctx, "key", sym); err != nil {
		return fmt.Errorf("press key %q: %w", name, err)
	}
	return nil
}

// dispatch runs one tool invocation and surfaces stderr in the error for
// diagnostics.
func (a *ExecActuator) dispatch(ctx context.Context, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.cfg.Tool, args...)
	cmd.Stderr = &stderr

	a.logger.Debug("Dispatching input event", zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s %s: %w (%s)", a.cfg.Tool, args[0], err, detail)
		}
		return fmt.Errorf("%s %s: %w", a.cfg.Tool, args[0], err)
	}
	return nil
}

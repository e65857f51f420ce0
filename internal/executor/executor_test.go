package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
	"github.com/xkilldash9x/marionette-cli/internal/shell"
)

// fakeActuator records dispatches and fails on demand.
type fakeActuator struct {
	clicks  []string
	typed   []string
	keys    []string
	failAll bool
}

func (f *fakeActuator) MoveAndClick(ctx context.Context, x, y int) error {
	if f.failAll {
		return errors.New("dispatch refused")
	}
	f.clicks = append(f.clicks, "click")
	return nil
}

func (f *fakeActuator) TypeText(ctx context.Context, text string) error {
	if f.failAll {
		return errors.New("dispatch refused")
	}
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakeActuator) PressKey(ctx context.Context, name string) error {
	if f.failAll {
		return errors.New("dispatch refused")
	}
	f.keys = append(f.keys, name)
	return nil
}

func (f *fakeActuator) ScreenSize() (int, int) { return 1280, 720 }

// fakeSession replays canned results keyed by command text.
type fakeSession struct {
	results  map[string]schemas.CommandResult
	errs     map[string]error
	commands []string
	cwd      string
}

func (f *fakeSession) Run(ctx context.Context, command string, timeout time.Duration) (schemas.CommandResult, error) {
	f.commands = append(f.commands, command)
	if err, ok := f.errs[command]; ok {
		return schemas.CommandResult{ExitCode: -1}, err
	}
	if res, ok := f.results[command]; ok {
		return res, nil
	}
	return schemas.CommandResult{ExitCode: 0, Cwd: f.cwd}, nil
}

func (f *fakeSession) Cwd() string      { return f.cwd }
func (f *fakeSession) Terminate() error { return nil }

func newTestExecutor(act *fakeActuator, session *fakeSession) *Executor {
	// Zero cooldowns keep the tests fast; pacing is covered separately.
	return New(act, session, Cooldowns{}, 5*time.Second, zap.NewNop())
}

func TestExecuteClickInBounds(t *testing.T) {
	act := &fakeActuator{}
	ex := newTestExecutor(act, &fakeSession{})

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick, X: 640, Y: 360})

	assert.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.Len(t, act.clicks, 1)
}

func TestExecuteClickOutOfBoundsIsSkipped(t *testing.T) {
	act := &fakeActuator{}
	ex := newTestExecutor(act, &fakeSession{})

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick, X: 1280, Y: 0})

	assert.Equal(t, schemas.OutcomeSkipped, out.Kind)
	assert.Equal(t, "out of bounds", out.Detail)
	// Rejected before dispatch; the actuator never saw it.
	assert.Empty(t, act.clicks)
}

func TestExecuteActuatorFailure(t *testing.T) {
	act := &fakeActuator{failAll: true}
	ex := newTestExecutor(act, &fakeSession{})

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionTypeText, Text: "hi"})

	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Contains(t, out.Detail, "dispatch refused")
}

func TestExecuteShellCommandReturnsResultForAnalysis(t *testing.T) {
	session := &fakeSession{
		cwd: "/work",
		results: map[string]schemas.CommandResult{
			"make build": {ExitCode: 2, Stderr: "missing target", Cwd: "/work"},
		},
	}
	ex := newTestExecutor(&fakeActuator{}, session)

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Text: "make build"})

	// Transport succeeded; logical verdict belongs to the analyzer.
	assert.Equal(t, schemas.OutcomeSuccess, out.Kind)
	require.NotNil(t, out.Command)
	assert.Equal(t, 2, out.Command.ExitCode)
	assert.Equal(t, "missing target", out.Command.Stderr)
}

func TestExecuteShellTimeoutMapsToIssue(t *testing.T) {
	session := &fakeSession{errs: map[string]error{"sleep 99": shell.ErrTimeout}}
	ex := newTestExecutor(&fakeActuator{}, session)

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Text: "sleep 99"})

	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Equal(t, schemas.IssueTimeout, out.Detail)
}

func TestExecuteShellDesyncMapsToIssue(t *testing.T) {
	session := &fakeSession{errs: map[string]error{"cat": shell.ErrDesynchronized}}
	ex := newTestExecutor(&fakeActuator{}, session)

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Text: "cat"})

	assert.Equal(t, schemas.OutcomeFailed, out.Kind)
	assert.Equal(t, schemas.IssueDesynchronized, out.Detail)
}

func TestExecuteTerminalActionsPassThrough(t *testing.T) {
	ex := newTestExecutor(&fakeActuator{}, &fakeSession{})

	out := ex.Execute(context.Background(), schemas.FailAction("planner gave up"))
	assert.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.Equal(t, "planner gave up", out.Detail)

	out = ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionDone})
	assert.Equal(t, schemas.OutcomeSuccess, out.Kind)
}

func TestExecuteWaitSleeps(t *testing.T) {
	ex := newTestExecutor(&fakeActuator{}, &fakeSession{})
	start := time.Now()

	out := ex.Execute(context.Background(), schemas.Action{Type: schemas.ActionWait, Seconds: 0.05})

	assert.Equal(t, schemas.OutcomeSuccess, out.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCooldownsFor(t *testing.T) {
	c := NewCooldowns(config.LoopConfig{
		ClickCooldown:   1500 * time.Millisecond,
		TypeCooldown:    2500 * time.Millisecond,
		WaitCooldown:    1000 * time.Millisecond,
		DefaultCooldown: 1500 * time.Millisecond,
	})

	assert.Equal(t, 1500*time.Millisecond, c.For(schemas.ActionClick))
	assert.Equal(t, 2500*time.Millisecond, c.For(schemas.ActionTypeText))
	assert.Equal(t, 1000*time.Millisecond, c.For(schemas.ActionWait))
	assert.Equal(t, 1500*time.Millisecond, c.For(schemas.ActionKey))
}

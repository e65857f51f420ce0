// File: internal/loop/manager.go
package loop

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
	"github.com/xkilldash9x/marionette-cli/internal/executor"
	"github.com/xkilldash9x/marionette-cli/internal/planner"
	"github.com/xkilldash9x/marionette-cli/internal/shell"
	"github.com/xkilldash9x/marionette-cli/internal/vision"
)

// RunHandle identifies one in-flight automation run. Opaque to callers;
// observe it through Manager.Status and Manager.Wait.
type RunHandle struct {
	ID     string
	loop   *Loop
	cancel context.CancelFunc
	group  *errgroup.Group
}

// SessionFactory creates the command session for one run. Injectable so loop
// and manager tests can substitute an in-memory session for a live PTY.
type SessionFactory func() (schemas.CommandSession, error)

// Manager is the external trigger surface for the control loop. Each run gets
// its own session shell, executor and loop state; nothing is shared between
// runs except the collaborator clients.
type Manager struct {
	cfg        *config.Config
	planner    schemas.Planner
	analyzer   planner.ResultAnalyzer
	frames     schemas.FrameSource
	actuator   schemas.Actuator
	newSession SessionFactory
	logger     *zap.Logger

	mu   sync.Mutex
	runs map[string]*RunHandle
}

// NewManager builds a manager around shared collaborators. A nil factory
// starts a real PTY-backed session per run.
func NewManager(
	cfg *config.Config,
	pl schemas.Planner,
	analyzer planner.ResultAnalyzer,
	frames schemas.FrameSource,
	act schemas.Actuator,
	factory SessionFactory,
	logger *zap.Logger,
) *Manager {
	m := &Manager{
		cfg:        cfg,
		planner:    pl,
		analyzer:   analyzer,
		frames:     frames,
		actuator:   act,
		newSession: factory,
		logger:     logger.Named("run_manager"),
		runs:       make(map[string]*RunHandle),
	}
	if m.newSession == nil {
		m.newSession = func() (schemas.CommandSession, error) {
			return shell.Start(cfg.Shell, logger)
		}
	}
	return m
}

// StartRun launches one run in its own goroutine and returns immediately.
// Session spawn failure is a resource error: surfaced here, never retried.
func (m *Manager) StartRun(ctx context.Context, goal string, maxSteps int) (*RunHandle, error) {
	if goal == "" {
		return nil, fmt.Errorf("goal is required")
	}

	session, err := m.newSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session shell: %w", err)
	}

	detector := vision.NewDetector(m.cfg.Vision, m.logger)
	exec := executor.New(
		m.actuator,
		session,
		executor.NewCooldowns(m.cfg.Loop),
		m.cfg.Shell.CommandTimeout,
		m.logger,
	)
	l := New(m.cfg.Loop, m.cfg.Vision, m.planner, m.analyzer, m.frames, detector, exec, session, m.logger)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	handle := &RunHandle{
		ID:     uuid.NewString(),
		loop:   l,
		cancel: cancel,
		group:  g,
	}

	m.mu.Lock()
	m.runs[handle.ID] = handle
	m.mu.Unlock()

	m.logger.Info("Run started", zap.String("run_id", handle.ID), zap.String("goal", goal))
	g.Go(func() error {
		return l.Run(gctx, goal, maxSteps)
	})
	return handle, nil
}

// Cancel requests cooperative shutdown of one run. The loop notices between
// state transitions; the session is terminated on its way out.
func (m *Manager) Cancel(h *RunHandle) {
	if h == nil {
		return
	}
	m.logger.Info("Run cancellation requested", zap.String("run_id", h.ID))
	h.cancel()
}

// Status snapshots one run.
func (m *Manager) Status(h *RunHandle) Status {
	if h == nil {
		return Status{}
	}
	return h.loop.Status()
}

// Wait blocks until the run finishes and returns its error. Context
// cancellation surfaces as the context error; budget and breaker stops are
// clean terminations with the reason in Status.
func (m *Manager) Wait(h *RunHandle) error {
	if h == nil {
		return fmt.Errorf("nil run handle")
	}
	err := h.group.Wait()
	h.cancel()

	m.mu.Lock()
	delete(m.runs, h.ID)
	m.mu.Unlock()
	return err
}

// File: internal/shell/session.go
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
)

// Sentinel errors callers branch on.
var (
	// ErrTimeout: the command did not finish within its deadline. The
	// interpreter survives; only the hung foreground job was interrupted.
	ErrTimeout = errors.New("shell: command timed out")
	// ErrDesynchronized: the sentinel markers never appeared, so output can
	// no longer be attributed to commands. The only condition that
	// invalidates the session; callers should restart it.
	ErrDesynchronized = errors.New("shell: session desynchronized")
	// ErrTerminated: the session has been terminated and cannot run commands.
	ErrTerminated = errors.New("shell: session terminated")
)

// SessionState tracks the interpreter lifecycle.
type SessionState string

const (
	StateRunning    SessionState = "RUNNING" // Idle, ready for the next command.
	StateExecuting  SessionState = "EXECUTING"
	StateTerminated SessionState = "TERMINATED"
)

// Session is a long-lived interactive interpreter attached through a
// pseudo-terminal. It preserves working directory, environment and file
// system side effects across Run calls. The session is owned by exactly one
// control loop goroutine; concurrent Run calls are serialized defensively but
// not supported as a usage pattern.
type Session struct {
	cfg    config.ShellConfig
	logger *zap.Logger

	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	state    SessionState
	cwd      string
	desynced bool
	termOnce sync.Once
	termErr  error
}

var _ schemas.CommandSession = (*Session)(nil)

// Start forks the configured interpreter attached to a fresh PTY. Profile and
// rc files are suppressed so the prompt is clean and reproducible. A spawn or
// PTY allocation failure here is a resource error: fatal to the session, not
// retried.
func Start(cfg config.ShellConfig, logger *zap.Logger) (*Session, error) {
	args := interpreterArgs(cfg.Interpreter)
	cmd := exec.Command(cfg.Interpreter, args...)
	cmd.Env = append(os.Environ(),
		"TERM=dumb",
		"PS1=", "PS2=",
		"PROMPT_COMMAND=",
		"HISTFILE=/dev/null",
	)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start interpreter on pty: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		logger: logger.Named("session_shell"),
		cmd:    cmd,
		ptmx:   ptmx,
		state:  StateRunning,
	}

	// Kill echo and any residual prompt machinery, then drain the output so
	// the first real command starts from a quiet stream.
	if _, err := ptmx.WriteString("stty -echo 2>/dev/null; export PS1='' PS2=''\n"); err != nil {
		s.Terminate()
		return nil, fmt.Errorf("failed to initialize interpreter: %w", err)
	}
	s.drain(300 * time.Millisecond)

	s.logger.Info("Session shell started",
		zap.String("interpreter", cfg.Interpreter),
		zap.Int("pid", cmd.Process.Pid))
	return s, nil
}

// interpreterArgs returns the flags that suppress startup files for the given
// interpreter.
func interpreterArgs(interpreter string) []string {
	if strings.Contains(filepath.Base(interpreter), "bash") {
		return []string{"--noprofile", "--norc", "-i"}
	}
	return []string{"-i"}
}

// Cwd returns the last observed working directory of the interpreter. It is
// best-effort; Run re-queries it before every command.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes one command inside the persistent interpreter. The command is
// wrapped with unique sentinel markers plus an exit-status echo so its output
// can be separated from terminal noise even when the command prints partial
// lines or control characters. Reads are readiness-polled against the
// timeout; a hung command yields ErrTimeout with a synthetic non-zero result
// while the interpreter itself stays usable.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (schemas.CommandResult, error) {
	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return schemas.CommandResult{}, ErrTerminated
	case s.desynced:
		s.mu.Unlock()
		return schemas.CommandResult{}, ErrDesynchronized
	case s.state == StateExecuting:
		s.mu.Unlock()
		return schemas.CommandResult{}, fmt.Errorf("shell: session is busy")
	}
	s.state = StateExecuting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateExecuting {
			s.state = StateRunning
		}
		s.mu.Unlock()
	}()

	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}

	// Fresh cwd first, so the caller has correct context even if the real
	// command fails or times out.
	cwd, err := s.queryCwd(ctx)
	if err != nil {
		if errors.Is(err, ErrDesynchronized) {
			return schemas.CommandResult{Cwd: s.Cwd()}, err
		}
		s.logger.Warn("Working directory query failed, using cached value", zap.Error(err))
		cwd = s.Cwd()
	}

	start := time.Now()
	res, err := s.exec(ctx, command, timeout)
	res.Duration = time.Since(start)
	if res.Cwd == "" {
		res.Cwd = cwd
	} else {
		s.mu.Lock()
		s.cwd = res.Cwd
		s.mu.Unlock()
	}
	return res, err
}

// queryCwd runs an isolated pwd through the marker protocol and caches the
// answer.
func (s *Session) queryCwd(ctx context.Context) (string, error) {
	res, err := s.exec(ctx, "pwd", s.cfg.CwdTimeout)
	if err != nil {
		return "", err
	}
	cwd := strings.TrimSpace(res.Stdout)
	if cwd != "" {
		s.mu.Lock()
		s.cwd = cwd
		s.mu.Unlock()
	}
	return cwd, nil
}

// exec writes one wrapped command and parses the marked output.
func (s *Session) exec(ctx context.Context, command string, timeout time.Duration) (schemas.CommandResult, error) {
	id := uuid.NewString()
	p := newProtocol(id)

	if _, err := s.ptmx.WriteString(p.wrap(command)); err != nil {
		return schemas.CommandResult{}, fmt.Errorf("shell: failed to write command: %w", err)
	}

	raw, err := s.readUntil(ctx, p.errEnd, timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			// Interrupt the hung foreground job via the line discipline,
			// leaving the interpreter alive, then swallow the leftovers.
			s.ptmx.Write([]byte{0x03})
			s.drain(200 * time.Millisecond)
			partial, _ := p.parse(raw)
			return schemas.CommandResult{
				ExitCode: -1,
				Stdout:   partial.Stdout,
				Cwd:      s.Cwd(),
			}, ErrTimeout
		}
		return schemas.CommandResult{}, err
	}

	res, perr := p.parse(raw)
	if perr != nil {
		s.mu.Lock()
		s.desynced = true
		s.mu.Unlock()
		s.logger.Error("Marker parse failed, session desynchronized", zap.Error(perr))
		return schemas.CommandResult{}, ErrDesynchronized
	}
	return res, nil
}

// readUntil accumulates PTY output until the terminator line appears or the
// deadline passes. Reads are gated on poll readiness so a silent descriptor
// never blocks the loop thread.
func (s *Session) readUntil(ctx context.Context, terminator string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	pollMs := int(s.cfg.PollInterval / time.Millisecond)
	if pollMs <= 0 {
		pollMs = 50
	}

	var buf strings.Builder
	chunk := make([]byte, 8192)
	fd := int(s.ptmx.Fd())

	for {
		if err := ctx.Err(); err != nil {
			return buf.String(), err
		}
		if time.Now().After(deadline) {
			return buf.String(), ErrTimeout
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return buf.String(), fmt.Errorf("shell: poll failed: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
			return buf.String(), fmt.Errorf("shell: interpreter closed the pty")
		}

		nr, err := s.ptmx.Read(chunk)
		if nr > 0 {
			buf.Write(chunk[:nr])
			if strings.Contains(buf.String(), terminator) {
				return buf.String(), nil
			}
		}
		if err != nil {
			return buf.String(), fmt.Errorf("shell: pty read failed: %w", err)
		}
	}
}

// drain discards whatever output arrives within the window. Used after
// interrupts and at startup.
func (s *Session) drain(window time.Duration) {
	deadline := time.Now().Add(window)
	chunk := make([]byte, 4096)
	fd := int(s.ptmx.Fd())
	for time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 20)
		if err != nil || n == 0 {
			if err == unix.EINTR {
				continue
			}
			if n == 0 {
				return
			}
			return
		}
		if _, err := s.ptmx.Read(chunk); err != nil {
			return
		}
	}
}

// Terminate signals the interpreter's process group and releases the PTY.
// Idempotent; must run on every loop exit path so no interpreter is orphaned.
func (s *Session) Terminate() error {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()

		if s.cmd != nil && s.cmd.Process != nil {
			pid := s.cmd.Process.Pid
			// Negative pid addresses the whole process group the PTY child
			// leads, catching any children the interpreter spawned.
			if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
				s.termErr = fmt.Errorf("shell: failed to signal process group: %w", err)
			}

			done := make(chan struct{})
			go func() {
				s.cmd.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				syscall.Kill(-pid, syscall.SIGKILL)
				<-done
			}
		}

		if s.ptmx != nil {
			if err := s.ptmx.Close(); err != nil && s.termErr == nil {
				s.termErr = fmt.Errorf("shell: failed to close pty: %w", err)
			}
		}
		s.logger.Info("Session shell terminated")
	})
	return s.termErr
}

package subprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	defaultStderrTail = 8 * 1024
	defaultKillGrace  = 5 * time.Second
)

// Config defines how to spawn and manage a reasoning engine process.
type Config struct {
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
	// Timeout stops the process group once elapsed. Zero disables it.
	Timeout time.Duration
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// Subprocess runs one engine process in its own process group so that
// Stop reaches every child the engine spawned.
type Subprocess struct {
	cfg        Config
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderrTail *tailBuffer
	done       chan struct{}
	err        error
	pgid       int
	timedOut   bool
	mu         sync.Mutex
}

// New creates a new Subprocess from the given config.
func New(cfg Config) *Subprocess {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	return &Subprocess{cfg: cfg}
}

// Start launches the process. Cancelling ctx stops the whole process group.
func (s *Subprocess) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("subprocess already started")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	if s.cfg.WorkingDir != "" {
		cmd.Dir = s.cfg.WorkingDir
	}
	if len(s.cfg.Env) > 0 {
		env := append([]string{}, os.Environ()...)
		for k, v := range s.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// A plain os.Pipe keeps stdout readable after Wait returns.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return fmt.Errorf("start subprocess: %w", err)
	}
	_ = stdoutW.Close()

	s.cmd = cmd
	s.stdout = stdoutR
	s.stderrTail = newTailBuffer(defaultStderrTail)
	s.done = make(chan struct{})
	if cmd.Process != nil {
		s.pgid, _ = syscall.Getpgid(cmd.Process.Pid)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		_, _ = io.Copy(s.stderrTail, stderr)
	}()

	go func() {
		<-stderrDone
		err := cmd.Wait()
		s.mu.Lock()
		s.err = err
		close(s.done)
		s.mu.Unlock()
	}()

	go s.watch(ctx, s.done)
	return nil
}

// watch stops the process group on context cancellation or timeout.
func (s *Subprocess) watch(ctx context.Context, done <-chan struct{}) {
	var timeout <-chan time.Time
	if s.cfg.Timeout > 0 {
		timer := time.NewTimer(s.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-done:
	case <-ctx.Done():
		_ = s.Stop()
	case <-timeout:
		s.mu.Lock()
		s.timedOut = true
		s.mu.Unlock()
		_ = s.Stop()
	}
}

func (s *Subprocess) Stdout() io.ReadCloser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout
}

func (s *Subprocess) StderrTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stderrTail == nil {
		return ""
	}
	return s.stderrTail.String()
}

// TimedOut reports whether the configured timeout stopped the process.
func (s *Subprocess) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timedOut
}

func (s *Subprocess) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL after
// the grace period. It also closes the stdout reader.
func (s *Subprocess) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	pgid := s.pgid
	stdout := s.stdout
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	defer func() { _ = stdout.Close() }()

	select {
	case <-done:
		return nil
	default:
	}
	if pgid == 0 {
		pgid = cmd.Process.Pid
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	timer := time.NewTimer(s.cfg.KillGrace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return nil
	}
}

func (s *Subprocess) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = defaultStderrTail
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.limit {
		t.buf = append(t.buf[:0], p[len(p)-t.limit:]...)
		return len(p), nil
	}
	if len(t.buf)+len(p) > t.limit {
		excess := len(t.buf) + len(p) - t.limit
		t.buf = t.buf[excess:]
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

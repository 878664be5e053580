package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboxhunter/inboxhunter/internal/locator"
	"github.com/inboxhunter/inboxhunter/internal/log"
	"github.com/inboxhunter/inboxhunter/internal/model"
)

const (
	ConfigFileName     = "bot_config.json"
	StopSignalFileName = "stop_signal.txt"

	DefaultStopTimeout  = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultKillGrace    = 2 * time.Second

	defaultDrainTimeout = 200 * time.Millisecond
	reapTimeout         = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("worker already running")

// errStopTimeout is logged when the worker ignored the stop signal.
var errStopTimeout = errors.New("worker did not stop in time")

// SpawnError is returned when the OS refused to start the worker.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning worker %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the supervisor. PID, RunID and Started are zero
// unless a worker process exists.
type Status struct {
	State   State
	PID     int
	RunID   string
	Started time.Time
}

// Resolver finds the worker to launch, see locator.Locator.
type Resolver interface {
	Resolve(ctx context.Context) (locator.LaunchSpec, error)
}

type Config struct {
	// DataDir holds the worker config and the stop signal file.
	DataDir string
	// Version is passed to the worker as INBOXHUNTER_VERSION.
	Version string
	// Env is appended to the inherited environment.
	Env          []string
	StopTimeout  time.Duration
	PollInterval time.Duration
	KillGrace    time.Duration
}

// Supervisor owns at most one worker process.
type Supervisor struct {
	resolver     Resolver
	dataDir      string
	version      string
	env          []string
	stopTimeout  time.Duration
	pollInterval time.Duration
	killGrace    time.Duration
	drainTimeout time.Duration
	terminate    func(cmd *exec.Cmd, grace time.Duration, done <-chan struct{}) error

	// lifecycle serializes Start and Stop, mx guards state and run
	lifecycle sync.Mutex
	mx        sync.RWMutex
	state     State
	run       *run

	bus *bus
}

func NewSupervisor(cfg Config, resolver Resolver) *Supervisor {
	s := &Supervisor{
		resolver:     resolver,
		dataDir:      cfg.DataDir,
		version:      cfg.Version,
		env:          append([]string(nil), cfg.Env...),
		stopTimeout:  cfg.StopTimeout,
		pollInterval: cfg.PollInterval,
		killGrace:    cfg.KillGrace,
		drainTimeout: defaultDrainTimeout,
		terminate:    terminateTree,
		bus:          newBus(),
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.killGrace <= 0 {
		s.killGrace = DefaultKillGrace
	}
	return s
}

func (s *Supervisor) ConfigPath() string {
	return filepath.Join(s.dataDir, ConfigFileName)
}

func (s *Supervisor) StopSignalPath() string {
	return filepath.Join(s.dataDir, StopSignalFileName)
}

// Subscribe returns a channel receiving events and a function to
// unsubscribe. Events are dropped when the buffer is full.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.subscribe(buffer)
}

func (s *Supervisor) Status() Status {
	s.mx.RLock()
	defer s.mx.RUnlock()
	st := Status{State: s.state}
	if s.run != nil {
		st.PID = s.run.pid()
		st.RunID = s.run.id
		st.Started = s.run.started
	}
	return st
}

func (s *Supervisor) Running() bool {
	return s.Status().State != Idle
}

// Start writes cfg for the worker and spawns it. It returns once the process
// is started, output is delivered to subscribers. Start fails with
// ErrAlreadyRunning unless the supervisor is idle.
func (s *Supervisor) Start(ctx context.Context, cfg model.BotConfig) (err error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mx.Lock()
	if s.state != Idle {
		s.mx.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Starting
	s.mx.Unlock()

	defer func() {
		if err != nil {
			s.mx.Lock()
			s.state = Idle
			s.mx.Unlock()
		}
	}()

	if err := cfg.Validate(); err != nil {
		return err
	}
	spec, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if err := s.writeConfig(cfg); err != nil {
		return err
	}
	if err := os.Remove(s.StopSignalPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing stale stop signal: %w", model.ErrIO, err)
	}

	args := append(append([]string(nil), spec.ArgPrefix...), "--config", s.ConfigPath())
	if cfg.Settings.Debug {
		args = append(args, "--debug")
	}
	if cfg.Settings.Headless {
		args = append(args, "--headless")
	}

	// the worker outlives the request context, it is ended by Stop only
	cmd := exec.Command(spec.Executable, args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(),
		"PYTHONIOENCODING=utf-8",
		"PYTHONUTF8=1",
		"INBOXHUNTER_VERSION="+s.version,
	)
	cmd.Env = append(cmd.Env, s.env...)
	configureProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Executable: spec.Executable, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Executable: spec.Executable, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &SpawnError{Executable: spec.Executable, Err: err}
	}

	r := &run{
		id:      uuid.NewString(),
		cmd:     cmd,
		started: time.Now().UTC(),
		done:    make(chan struct{}),
	}
	s.mx.Lock()
	s.run = r
	s.state = Running
	s.mx.Unlock()

	runCtx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("run_id", r.id))
	slog.InfoContext(runCtx, "worker started", "executable", spec.Executable, "args", args, "pid", r.pid(), "dir", spec.WorkingDir)
	go s.monitor(runCtx, r, stdout, stderr)
	return nil
}

func (s *Supervisor) writeConfig(cfg model.BotConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding worker config: %w", model.ErrIO, err)
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating data dir %s: %w", model.ErrIO, s.dataDir, err)
	}
	// holds API keys
	if err := os.WriteFile(s.ConfigPath(), b, 0o600); err != nil {
		return fmt.Errorf("%w: writing worker config: %w", model.ErrIO, err)
	}
	return nil
}

// Stop asks the worker to exit through the stop signal file and waits up to
// the stop timeout. A worker still running then has its process tree
// terminated. Stop on an idle supervisor does nothing. Afterwards the
// supervisor is idle and the signal file is gone.
//
// Cancelling ctx skips the rest of the graceful wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mx.Lock()
	r := s.run
	if s.state == Idle || r == nil {
		s.mx.Unlock()
		return nil
	}
	s.state = Stopping
	s.mx.Unlock()

	ctx = log.ContextAttrs(ctx, slog.String("run_id", r.id))
	defer func() {
		if err := os.Remove(s.StopSignalPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.ErrorContext(ctx, "removing stop signal", "error", err)
		}
		s.mx.Lock()
		if s.run == r {
			s.run = nil
		}
		s.state = Idle
		s.mx.Unlock()
	}()

	graceful := true
	if err := os.WriteFile(s.StopSignalPath(), []byte("stop"), 0o644); err != nil {
		slog.ErrorContext(ctx, "writing stop signal, terminating worker", "error", fmt.Errorf("%w: %w", model.ErrIO, err))
		graceful = false
	}

	if graceful {
		err := s.awaitExit(ctx, r)
		if err == nil {
			slog.InfoContext(ctx, "worker stopped gracefully")
			return nil
		}
		slog.WarnContext(ctx, "escalating worker stop", "error", err, "timeout", s.stopTimeout.String())
	}

	if err := s.terminate(r.cmd, s.killGrace, r.done); err != nil {
		slog.ErrorContext(ctx, "terminating worker process tree", "error", err)
	}
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.DebugContext(ctx, "killing worker", "error", err)
	}

	select {
	case <-r.done:
		slog.InfoContext(ctx, "worker terminated")
	case <-time.After(reapTimeout):
		slog.ErrorContext(ctx, "worker not reaped after kill", "pid", r.pid())
	}
	return nil
}

// awaitExit polls the run every poll interval until it exits or the stop
// timeout passes.
func (s *Supervisor) awaitExit(ctx context.Context, r *run) error {
	deadline := time.Now().Add(s.stopTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if r.exited() {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errStopTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

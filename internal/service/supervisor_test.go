//go:build !windows

package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inboxhunter/inboxhunter/internal/locator"
	"github.com/inboxhunter/inboxhunter/internal/model"
	"github.com/inboxhunter/inboxhunter/internal/service"
	"github.com/stretchr/testify/require"
)

// shellResolver launches sh -c script, worker arguments end up in "$@".
type shellResolver struct {
	sh     string
	script string
	err    error
}

func (r shellResolver) Resolve(context.Context) (locator.LaunchSpec, error) {
	if r.err != nil {
		return locator.LaunchSpec{}, r.err
	}
	return locator.LaunchSpec{
		Executable: r.sh,
		ArgPrefix:  []string{"-c", r.script, "worker"},
	}, nil
}

func lookSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func newSupervisor(t *testing.T, script string, cfg service.Config) *service.Supervisor {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cfg.Env = append(cfg.Env, "STOP="+filepath.Join(cfg.DataDir, service.StopSignalFileName))
	sup := service.NewSupervisor(cfg, shellResolver{sh: lookSh(t), script: script})
	t.Cleanup(func() {
		require.NoError(t, sup.Stop(context.Background()))
	})
	return sup
}

// collect reads events until the stopped event arrives.
func collect(t *testing.T, ch <-chan service.Event, timeout time.Duration) (logs []service.Event, stopped service.Event) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if e.Kind == service.EventStopped {
				return logs, e
			}
			logs = append(logs, e)
		case <-deadline:
			t.Fatalf("no stopped event after %s, got %d log events", timeout, len(logs))
		}
	}
}

func messages(events []service.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Message)
	}
	return out
}

func TestSupervisor_Output(t *testing.T) {
	t.Parallel()
	sup := newSupervisor(t, `echo hello; echo "ERROR boom"; echo "done ✅"; echo oops 1>&2`, service.Config{})
	events, cancel := sup.Subscribe(64)
	t.Cleanup(cancel)

	require.NoError(t, sup.Start(t.Context(), model.BotConfig{}))
	logs, stopped := collect(t, events, 5*time.Second)

	var stdout []service.Event
	var stderr []service.Event
	for _, e := range logs {
		if e.Message == "oops" {
			stderr = append(stderr, e)
			continue
		}
		stdout = append(stdout, e)
	}
	require.Equal(t, []string{"hello", "ERROR boom", "done ✅"}, messages(stdout))
	require.Equal(t, service.LevelInfo, stdout[0].Level)
	require.Equal(t, service.LevelError, stdout[1].Level)
	require.Equal(t, service.LevelSuccess, stdout[2].Level)
	require.Len(t, stderr, 1)
	require.Equal(t, service.LevelError, stderr[0].Level)

	require.Equal(t, 0, stopped.ExitCode)
	require.NoError(t, stopped.Err)
	require.Equal(t, stdout[0].RunID, stopped.RunID)
	require.NotEmpty(t, stopped.RunID)

	require.Eventually(t, func() bool { return !sup.Running() }, time.Second, 10*time.Millisecond)
	select {
	case e := <-events:
		t.Fatalf("unexpected event after stopped: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSupervisor_Crash(t *testing.T) {
	t.Parallel()
	sup := newSupervisor(t, `echo working; exit 3`, service.Config{})
	events, cancel := sup.Subscribe(16)
	t.Cleanup(cancel)

	require.NoError(t, sup.Start(t.Context(), model.BotConfig{}))
	_, stopped := collect(t, events, 5*time.Second)
	require.Equal(t, 3, stopped.ExitCode)
	var exitErr *exec.ExitError
	require.ErrorAs(t, stopped.Err, &exitErr)
	require.Eventually(t, func() bool { return sup.Status().State == service.Idle }, time.Second, 10*time.Millisecond)
}

func TestSupervisor_Arguments(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	stop := filepath.Join(dataDir, service.StopSignalFileName)
	require.NoError(t, os.WriteFile(stop, []byte("stop"), 0o644))

	script := `echo "args $*"; echo "env $PYTHONIOENCODING $PYTHONUTF8 $INBOXHUNTER_VERSION"; ` +
		`if [ -f "$STOP" ]; then echo stale; else echo clean; fi`
	sup := newSupervisor(t, script, service.Config{DataDir: dataDir, Version: "1.2.3"})
	events, cancel := sup.Subscribe(16)
	t.Cleanup(cancel)

	cfg := model.BotConfig{
		Credentials: model.Credentials{Email: "ada@example.com"},
		Settings:    model.BotSettings{Debug: true, Headless: true},
	}
	require.NoError(t, sup.Start(t.Context(), cfg))
	logs, _ := collect(t, events, 5*time.Second)

	require.Equal(t, []string{
		"args --config " + sup.ConfigPath() + " --debug --headless",
		"env utf-8 1 1.2.3",
		"clean",
	}, messages(logs))

	b, err := os.ReadFile(sup.ConfigPath())
	require.NoError(t, err)
	var written model.BotConfig
	require.NoError(t, json.Unmarshal(b, &written))
	require.Equal(t, cfg, written)
}

func TestSupervisor_StopGraceful(t *testing.T) {
	t.Parallel()
	script := `echo ready; while [ ! -f "$STOP" ]; do sleep 0.05; done; echo "SUCCESS bye"`
	sup := newSupervisor(t, script, service.Config{PollInterval: 20 * time.Millisecond})
	events, cancel := sup.Subscribe(16)
	t.Cleanup(cancel)

	ctx := t.Context()
	require.NoError(t, sup.Start(ctx, model.BotConfig{}))
	require.True(t, sup.Running())
	st := sup.Status()
	require.Equal(t, service.Running, st.State)
	require.NotZero(t, st.PID)

	t.Run("already running", func(t *testing.T) {
		err := sup.Start(ctx, model.BotConfig{})
		require.ErrorIs(t, err, service.ErrAlreadyRunning)
	})

	start := time.Now()
	require.NoError(t, sup.Stop(ctx))
	require.Less(t, time.Since(start), service.DefaultStopTimeout)
	require.False(t, sup.Running())
	require.NoFileExists(t, sup.StopSignalPath())

	logs, stopped := collect(t, events, time.Second)
	require.Equal(t, []string{"ready", "SUCCESS bye"}, messages(logs))
	require.Equal(t, 0, stopped.ExitCode)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, sup.Stop(ctx))
		require.NoError(t, sup.Stop(ctx))
		require.Equal(t, service.Idle, sup.Status().State)
	})

	t.Run("restart", func(t *testing.T) {
		require.NoError(t, sup.Start(ctx, model.BotConfig{}))
		require.NoError(t, sup.Stop(ctx))
		_, stopped := collect(t, events, time.Second)
		require.Equal(t, 0, stopped.ExitCode)
	})
}

func TestSupervisor_StopEscalation(t *testing.T) {
	t.Parallel()
	const (
		timeout = 300 * time.Millisecond
		grace   = 100 * time.Millisecond
	)
	script := `trap '' TERM; echo stubborn; while true; do sleep 0.05; done`
	sup := newSupervisor(t, script, service.Config{
		StopTimeout:  timeout,
		PollInterval: 20 * time.Millisecond,
		KillGrace:    grace,
	})
	events, cancel := sup.Subscribe(16)
	t.Cleanup(cancel)

	require.NoError(t, sup.Start(t.Context(), model.BotConfig{}))
	// wait for the worker to be up, so the trap is installed
	select {
	case e := <-events:
		require.Equal(t, "stubborn", e.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start")
	}

	start := time.Now()
	require.NoError(t, sup.Stop(t.Context()))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+grace+2*time.Second)
	require.Equal(t, service.Idle, sup.Status().State)
	require.NoFileExists(t, sup.StopSignalPath())

	_, stopped := collect(t, events, time.Second)
	require.Equal(t, -1, stopped.ExitCode)
}

func TestSupervisor_StopKillsProcessGroup(t *testing.T) {
	t.Parallel()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skipf("skipped, /proc not available: %v", err)
	}
	dataDir := t.TempDir()
	pidFile := filepath.Join(dataDir, "grandchild.pid")
	// the grandchild ignores TERM too, only the group SIGKILL ends it
	script := `trap '' TERM; ` +
		`sh -c 'trap "" TERM; while true; do sleep 0.05; done' & echo $! > "$GRANDCHILD"; ` +
		`echo spawned; while true; do sleep 0.05; done`
	sup := newSupervisor(t, script, service.Config{
		DataDir:      dataDir,
		Env:          []string{"GRANDCHILD=" + pidFile},
		StopTimeout:  200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		KillGrace:    100 * time.Millisecond,
	})
	events, cancel := sup.Subscribe(16)
	t.Cleanup(cancel)

	require.NoError(t, sup.Start(t.Context(), model.BotConfig{}))
	select {
	case e := <-events:
		require.Equal(t, "spawned", e.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not start")
	}

	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	state := procState(pid)
	require.NotEmpty(t, state)
	require.NotEqual(t, "Z", state)

	require.NoError(t, sup.Stop(t.Context()))
	// an unreaped zombie counts as gone, PID 1 of a container may not reap
	require.Eventually(t, func() bool {
		st := procState(pid)
		return st == "" || st == "Z"
	}, 2*time.Second, 20*time.Millisecond, "grandchild %d still running", pid)
}

// procState returns the state letter of pid from /proc, empty when the
// process does not exist.
func procState(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ""
	}
	// pid (comm) state ..., comm may contain spaces and parens
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return ""
	}
	fields := strings.Fields(string(b[i+1:]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func TestSupervisor_ConcurrentStart(t *testing.T) {
	t.Parallel()
	sup := newSupervisor(t, `echo up; while [ ! -f "$STOP" ]; do sleep 0.05; done`, service.Config{
		PollInterval: 20 * time.Millisecond,
	})

	const callers = 16
	var (
		started atomic.Int32
		wg      sync.WaitGroup
	)
	errs := make(chan error, callers)
	for range callers {
		wg.Go(func() {
			if err := sup.Start(t.Context(), model.BotConfig{}); err != nil {
				errs <- err
				return
			}
			started.Add(1)
		})
	}
	wg.Wait()
	close(errs)

	require.Equal(t, int32(1), started.Load())
	var rejected int
	for err := range errs {
		require.ErrorIs(t, err, service.ErrAlreadyRunning)
		rejected++
	}
	require.Equal(t, callers-1, rejected)
	require.True(t, sup.Running())
	require.NoError(t, sup.Stop(t.Context()))
	require.Equal(t, service.Idle, sup.Status().State)
}

func TestSupervisor_LongLine(t *testing.T) {
	t.Parallel()
	for _, bin := range []string{"head", "tr"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("skipped, binary %s not available: %v", bin, err)
		}
	}
	const maxLine = 1 << 20
	sup := newSupervisor(t, `head -c 1100000 /dev/zero | tr '\0' x; echo; echo after`, service.Config{})
	events, cancel := sup.Subscribe(16)
	t.Cleanup(cancel)

	require.NoError(t, sup.Start(t.Context(), model.BotConfig{}))
	logs, stopped := collect(t, events, 10*time.Second)
	require.Equal(t, 0, stopped.ExitCode)
	require.Len(t, logs, 2)
	require.Len(t, logs[0].Message, maxLine)
	require.Equal(t, maxLine, strings.Count(logs[0].Message, "x"))
	require.Equal(t, "after", logs[1].Message)
}

func TestSupervisor_StopIdle(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	sup := service.NewSupervisor(service.Config{DataDir: dataDir}, shellResolver{})
	require.NoError(t, sup.Stop(t.Context()))
	require.Equal(t, service.Idle, sup.Status().State)
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSupervisor_StartErrors(t *testing.T) {
	t.Parallel()

	t.Run("spawn error", func(t *testing.T) {
		sup := service.NewSupervisor(
			service.Config{DataDir: t.TempDir()},
			fixedResolver{spec: locator.LaunchSpec{Executable: "/does/not/exist/worker"}},
		)
		err := sup.Start(t.Context(), model.BotConfig{})
		var spawnErr *service.SpawnError
		require.ErrorAs(t, err, &spawnErr)
		require.Equal(t, "/does/not/exist/worker", spawnErr.Executable)
		require.ErrorIs(t, err, os.ErrNotExist)
		require.Equal(t, service.Idle, sup.Status().State)
	})

	t.Run("resolution error", func(t *testing.T) {
		resErr := &locator.ResolutionError{Reason: "nothing here", Remediation: "install it"}
		sup := service.NewSupervisor(service.Config{DataDir: t.TempDir()}, shellResolver{err: resErr})
		err := sup.Start(t.Context(), model.BotConfig{})
		var got *locator.ResolutionError
		require.ErrorAs(t, err, &got)
		require.Equal(t, "install it", got.Remediation)
		require.False(t, sup.Running())
	})

	t.Run("invalid config", func(t *testing.T) {
		sup := service.NewSupervisor(service.Config{DataDir: t.TempDir()}, shellResolver{err: errors.New("not reached")})
		err := sup.Start(t.Context(), model.BotConfig{Settings: model.BotSettings{AdLimit: -1}})
		require.ErrorIs(t, err, model.ErrSchema)
		require.False(t, sup.Running())
	})

	t.Run("unwritable data dir", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		sup := service.NewSupervisor(service.Config{DataDir: filepath.Join(file, "data")}, fixedResolver{})
		err := sup.Start(t.Context(), model.BotConfig{})
		require.ErrorIs(t, err, model.ErrIO)
		require.False(t, sup.Running())
	})
}

type fixedResolver struct {
	spec locator.LaunchSpec
}

func (r fixedResolver) Resolve(context.Context) (locator.LaunchSpec, error) {
	return r.spec, nil
}

func TestSupervisor_SlowSubscriber(t *testing.T) {
	t.Parallel()
	sup := newSupervisor(t, `i=0; while [ $i -lt 200 ]; do echo "line $i"; i=$((i+1)); done`, service.Config{})
	// a subscriber that never reads must not block the worker
	_, cancelStuck := sup.Subscribe(1)
	t.Cleanup(cancelStuck)
	events, cancel := sup.Subscribe(1024)
	t.Cleanup(cancel)

	require.NoError(t, sup.Start(t.Context(), model.BotConfig{}))
	logs, _ := collect(t, events, 5*time.Second)
	require.Len(t, logs, 200)
	require.True(t, strings.HasPrefix(logs[199].Message, "line 199"))
}

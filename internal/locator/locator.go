package locator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

const pythonRemediation = "Python not found. Please install Python 3.9+ and set up the virtual environment:\n" +
	"cd automation && python3 -m venv venv && source venv/bin/activate && " +
	"pip install -r requirements.txt && playwright install chromium"

// ResolutionError is returned when no worker can be found. Remediation
// tells the user what to install or set up.
type ResolutionError struct {
	Reason      string
	Remediation string
	Searched    []string
}

func (e *ResolutionError) Error() string {
	if e.Remediation == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Remediation
}

// LaunchSpec describes how to start the worker, the supervisor appends the
// worker arguments to ArgPrefix.
type LaunchSpec struct {
	Executable string
	ArgPrefix  []string
	WorkingDir string
	ScriptMode bool
}

func (s LaunchSpec) String() string {
	if len(s.ArgPrefix) == 0 {
		return s.Executable
	}
	return s.Executable + " " + strings.Join(s.ArgPrefix, " ")
}

type Platform struct {
	GOOS   string
	GOARCH string
}

func HostPlatform() Platform {
	return Platform{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
}

type Config struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
	// Platform defaults to the running one.
	Platform Platform
	// Executable is the host binary, defaults to os.Executable.
	Executable string
	// ResourceDir is where the host packaging puts bundled resources.
	ResourceDir string
	// Mode is ModeDevelopment, ModeProduction or empty for detection
	// from Executable.
	Mode string
	// Prober defaults to ExecProber.
	Prober Prober
}

type Locator struct {
	fs          afero.Fs
	platform    Platform
	exe         string
	resourceDir string
	mode        string
	prober      Prober
}

func New(cfg Config) (*Locator, error) {
	l := &Locator{
		fs:          cfg.Fs,
		platform:    cfg.Platform,
		exe:         cfg.Executable,
		resourceDir: cfg.ResourceDir,
		mode:        cfg.Mode,
		prober:      cfg.Prober,
	}
	if l.fs == nil {
		l.fs = afero.NewOsFs()
	}
	if l.platform == (Platform{}) {
		l.platform = HostPlatform()
	}
	if l.exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving host executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		l.exe = exe
	}
	switch l.mode {
	case "", "auto":
		l.mode = DetectMode(l.exe)
	case ModeDevelopment, ModeProduction:
	default:
		return nil, fmt.Errorf("unsupported install mode %q", cfg.Mode)
	}
	if l.prober == nil {
		l.prober = ExecProber{}
	}
	return l, nil
}

func (l *Locator) Mode() string {
	return l.mode
}

// DetectMode guesses the install mode from the host executable path. Build
// output directories (debug, release, target) and go run temp dirs mean
// development.
func DetectMode(exe string) string {
	parent := filepath.Base(filepath.Dir(exe))
	if parent == "debug" || parent == "release" {
		return ModeDevelopment
	}
	slashed := filepath.ToSlash(exe)
	if strings.Contains(slashed, "/target/") || strings.Contains(slashed, "go-build") {
		return ModeDevelopment
	}
	return ModeProduction
}

// Resolve returns the worker to launch.
func (l *Locator) Resolve(ctx context.Context) (LaunchSpec, error) {
	type finder func(context.Context) (LaunchSpec, bool, error)
	order := []finder{l.sidecarSpec, l.scriptSpec}
	if l.mode == ModeDevelopment {
		order = []finder{l.scriptSpec, l.sidecarSpec}
	}

	// a script tree without an interpreter does not stop the search, the
	// interpreter error is reported only when nothing else is found
	var firstErr error
	for _, find := range order {
		spec, ok, err := find(ctx)
		if err != nil {
			slog.DebugContext(ctx, "worker candidate unusable", "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			slog.DebugContext(ctx, "worker resolved", "mode", l.mode, "executable", spec.Executable, "script", spec.ScriptMode)
			return spec, nil
		}
	}
	if firstErr != nil {
		return LaunchSpec{}, firstErr
	}

	c := l.Candidates()
	return LaunchSpec{}, &ResolutionError{
		Reason:      "could not find automation scripts or sidecar binary",
		Remediation: "reinstall the application, or for a source checkout: " + pythonRemediation,
		Searched:    append(append([]string(nil), c.Sidecar...), c.Scripts...),
	}
}

func (l *Locator) sidecarSpec(ctx context.Context) (LaunchSpec, bool, error) {
	path, ok := l.FindSidecar(ctx)
	if !ok {
		return LaunchSpec{}, false, nil
	}
	return LaunchSpec{
		Executable: path,
		WorkingDir: filepath.Dir(path),
	}, true, nil
}

func (l *Locator) scriptSpec(ctx context.Context) (LaunchSpec, bool, error) {
	dir, ok := l.FindScripts(ctx)
	if !ok {
		return LaunchSpec{}, false, nil
	}
	python, err := l.ResolveInterpreter(ctx, dir)
	if err != nil {
		return LaunchSpec{}, false, err
	}
	return LaunchSpec{
		Executable: python,
		ArgPrefix:  []string{filepath.Join(dir, "main.py")},
		WorkingDir: dir,
		ScriptMode: true,
	}, true, nil
}

// FindSidecar returns the first existing sidecar candidate.
func (l *Locator) FindSidecar(ctx context.Context) (string, bool) {
	return l.first(ctx, "sidecar", l.Candidates().Sidecar, l.isFile)
}

// FindScripts returns the first candidate directory holding main.py.
func (l *Locator) FindScripts(ctx context.Context) (string, bool) {
	return l.first(ctx, "scripts", l.Candidates().Scripts, func(dir string) bool {
		return l.isFile(filepath.Join(dir, "main.py"))
	})
}

func (l *Locator) first(ctx context.Context, kind string, candidates []string, ok func(string) bool) (string, bool) {
	for _, c := range candidates {
		if ok(c) {
			slog.DebugContext(ctx, "candidate found", "kind", kind, "path", c)
			return c, true
		}
		slog.DebugContext(ctx, "candidate missing", "kind", kind, "path", c)
	}
	return "", false
}

func (l *Locator) isFile(path string) bool {
	info, err := l.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

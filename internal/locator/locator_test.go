//go:build !windows

package locator_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inboxhunter/inboxhunter/internal/locator"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var linux = locator.Platform{GOOS: "linux", GOARCH: "amd64"}

// fakeProber succeeds for the listed commands, keyed by name and first arg.
type fakeProber struct {
	ok    map[string]bool
	calls []string
}

func (p *fakeProber) Probe(_ context.Context, name string, args ...string) error {
	key := name + " " + args[0]
	p.calls = append(p.calls, key)
	if p.ok[key] {
		return nil
	}
	return errors.New("exit status 1")
}

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0o755))
}

func newLocator(t *testing.T, fs afero.Fs, exe, mode string, prober locator.Prober) *locator.Locator {
	t.Helper()
	if prober == nil {
		prober = &fakeProber{}
	}
	l, err := locator.New(locator.Config{
		Fs:          fs,
		Platform:    linux,
		Executable:  exe,
		ResourceDir: "/usr/share/inboxhunter",
		Mode:        mode,
		Prober:      prober,
	})
	require.NoError(t, err)
	return l
}

func TestResolve(t *testing.T) {
	t.Parallel()
	const (
		exe     = "/opt/inboxhunter/inboxhunter"
		sidecar = "/opt/inboxhunter/automation/inboxhunter-automation-x86_64-unknown-linux-gnu"
		scripts = "/opt/inboxhunter/_up_/automation"
		venvPy  = "/opt/inboxhunter/_up_/automation/venv/bin/python"
	)

	var testCases = []struct {
		scenario string
		files    []string
		mode     string
		then     locator.LaunchSpec
	}{
		{
			scenario: "production prefers sidecar",
			files:    []string{sidecar, scripts + "/main.py", venvPy},
			mode:     locator.ModeProduction,
			then:     locator.LaunchSpec{Executable: sidecar, WorkingDir: "/opt/inboxhunter/automation"},
		},
		{
			scenario: "development prefers scripts",
			files:    []string{sidecar, scripts + "/main.py", venvPy},
			mode:     locator.ModeDevelopment,
			then: locator.LaunchSpec{
				Executable: venvPy,
				ArgPrefix:  []string{scripts + "/main.py"},
				WorkingDir: scripts,
				ScriptMode: true,
			},
		},
		{
			scenario: "production falls back to scripts",
			files:    []string{scripts + "/main.py", venvPy},
			mode:     locator.ModeProduction,
			then: locator.LaunchSpec{
				Executable: venvPy,
				ArgPrefix:  []string{scripts + "/main.py"},
				WorkingDir: scripts,
				ScriptMode: true,
			},
		},
		{
			scenario: "development falls back to sidecar when python is missing",
			files:    []string{sidecar, scripts + "/main.py"},
			mode:     locator.ModeDevelopment,
			then:     locator.LaunchSpec{Executable: sidecar, WorkingDir: "/opt/inboxhunter/automation"},
		},
		{
			scenario: "production name without triple",
			files:    []string{"/opt/inboxhunter/inboxhunter-automation"},
			mode:     locator.ModeProduction,
			then:     locator.LaunchSpec{Executable: "/opt/inboxhunter/inboxhunter-automation", WorkingDir: "/opt/inboxhunter"},
		},
		{
			scenario: "resource dir",
			files:    []string{"/usr/share/inboxhunter/automation/inboxhunter-automation-x86_64-unknown-linux-gnu"},
			mode:     locator.ModeProduction,
			then: locator.LaunchSpec{
				Executable: "/usr/share/inboxhunter/automation/inboxhunter-automation-x86_64-unknown-linux-gnu",
				WorkingDir: "/usr/share/inboxhunter/automation",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			for _, f := range tc.files {
				touch(t, fs, f)
			}
			l := newLocator(t, fs, exe, tc.mode, nil)
			spec, err := l.Resolve(t.Context())
			require.NoError(t, err)
			require.Equal(t, tc.then, spec)
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()
	l := newLocator(t, afero.NewMemMapFs(), "/opt/inboxhunter/inboxhunter", locator.ModeProduction, nil)
	_, err := l.Resolve(t.Context())
	require.Error(t, err)

	var resErr *locator.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Contains(t, resErr.Remediation, "python3 -m venv venv")
	require.Contains(t, resErr.Searched, "/opt/inboxhunter/automation/inboxhunter-automation-x86_64-unknown-linux-gnu")
}

func TestResolve_ScriptsWithoutPython(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	touch(t, fs, "/opt/inboxhunter/automation/main.py")
	l := newLocator(t, fs, "/opt/inboxhunter/inboxhunter", locator.ModeProduction, nil)

	_, err := l.Resolve(t.Context())
	var resErr *locator.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, "python interpreter not found", resErr.Reason)
	require.True(t, strings.HasPrefix(resErr.Remediation, "Python not found. Please install Python 3.9+"))
}

func TestResolveInterpreter(t *testing.T) {
	t.Parallel()
	const scripts = "/src/project/automation"

	t.Run("dot venv", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		touch(t, fs, scripts+"/.venv/bin/python")
		l := newLocator(t, fs, "/usr/bin/inboxhunter", locator.ModeProduction, nil)
		py, err := l.ResolveInterpreter(t.Context(), scripts)
		require.NoError(t, err)
		require.Equal(t, scripts+"/.venv/bin/python", py)
	})

	t.Run("build venv", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		touch(t, fs, "/src/project/automation/venv/bin/python")
		l := newLocator(t, fs, "/src/project/app/target/release/inboxhunter", "", nil)
		require.Equal(t, locator.ModeDevelopment, l.Mode())
		py, err := l.ResolveInterpreter(t.Context(), "/elsewhere/automation")
		require.NoError(t, err)
		require.Equal(t, "/src/project/automation/venv/bin/python", py)
	})

	t.Run("system with packages", func(t *testing.T) {
		prober := &fakeProber{ok: map[string]bool{
			"python3 --version": true,
			"python --version":  true,
			"python -c":         true,
		}}
		l := newLocator(t, afero.NewMemMapFs(), "/usr/bin/inboxhunter", locator.ModeProduction, prober)
		py, err := l.ResolveInterpreter(t.Context(), scripts)
		require.NoError(t, err)
		require.Equal(t, "python", py)
		require.Equal(t, []string{"python3 --version", "python3 -c", "python --version", "python -c"}, prober.calls)
	})

	t.Run("bare system", func(t *testing.T) {
		prober := &fakeProber{ok: map[string]bool{"python3 --version": true}}
		l := newLocator(t, afero.NewMemMapFs(), "/usr/bin/inboxhunter", locator.ModeProduction, prober)
		py, err := l.ResolveInterpreter(t.Context(), scripts)
		require.NoError(t, err)
		require.Equal(t, "python3", py)
	})
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	t.Run("darwin bundle", func(t *testing.T) {
		l, err := locator.New(locator.Config{
			Fs:         afero.NewMemMapFs(),
			Platform:   locator.Platform{GOOS: "darwin", GOARCH: "arm64"},
			Executable: "/Applications/InboxHunter.app/Contents/MacOS/inboxhunter",
			Mode:       locator.ModeProduction,
		})
		require.NoError(t, err)
		c := l.Candidates()
		require.Equal(t, []string{
			"/Applications/InboxHunter.app/Contents/Resources/_up_/automation/inboxhunter-automation-aarch64-apple-darwin",
			"/Applications/InboxHunter.app/Contents/Resources/inboxhunter-automation-aarch64-apple-darwin",
			"/Applications/InboxHunter.app/Contents/MacOS/inboxhunter-automation-aarch64-apple-darwin",
		}, c.Sidecar)
		require.Equal(t, []string{
			"/Applications/InboxHunter.app/Contents/Resources/_up_/automation",
			"/Applications/InboxHunter.app/Contents/Resources/automation",
		}, c.Scripts)
	})

	t.Run("development adds source tree first", func(t *testing.T) {
		l := newLocator(t, afero.NewMemMapFs(), "/src/project/app/target/debug/inboxhunter", "", nil)
		c := l.Candidates()
		require.Equal(t, "/src/project/app/target/automation", c.Scripts[0])
		require.Equal(t, "/src/project/app/automation", c.Scripts[1])
		require.Equal(t, "/src/project/automation", c.Scripts[2])
		require.Equal(t, "/usr/share/inboxhunter/automation", c.Scripts[len(c.Scripts)-1])
	})
}

func TestDetectMode(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		exe  string
		then string
	}{
		{"/src/app/target/debug/inboxhunter", locator.ModeDevelopment},
		{"/src/app/build/release/inboxhunter", locator.ModeDevelopment},
		{"/tmp/go-build1234/b001/exe/inboxhunter", locator.ModeDevelopment},
		{"/opt/inboxhunter/inboxhunter", locator.ModeProduction},
		{"/Applications/InboxHunter.app/Contents/MacOS/inboxhunter", locator.ModeProduction},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.then, locator.DetectMode(tc.exe), tc.exe)
	}
}

func TestSidecarName(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		platform locator.Platform
		then     string
	}{
		{locator.Platform{GOOS: "darwin", GOARCH: "arm64"}, "inboxhunter-automation-aarch64-apple-darwin"},
		{locator.Platform{GOOS: "darwin", GOARCH: "amd64"}, "inboxhunter-automation-x86_64-apple-darwin"},
		{locator.Platform{GOOS: "windows", GOARCH: "amd64"}, "inboxhunter-automation-x86_64-pc-windows-msvc.exe"},
		{locator.Platform{GOOS: "linux", GOARCH: "amd64"}, "inboxhunter-automation-x86_64-unknown-linux-gnu"},
		{locator.Platform{GOOS: "freebsd", GOARCH: "amd64"}, "inboxhunter-automation"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.then, tc.platform.SidecarName())
	}
	require.Equal(t, "inboxhunter-automation.exe", locator.Platform{GOOS: "windows", GOARCH: "amd64"}.ProductionName())
}

func TestNew_InvalidMode(t *testing.T) {
	t.Parallel()
	_, err := locator.New(locator.Config{Executable: "/x/y", Mode: "portable"})
	require.Error(t, err)
}

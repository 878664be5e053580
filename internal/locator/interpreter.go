package locator

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// requiredImports is the capability probe for a system interpreter.
const requiredImports = "import loguru, playwright, openai"

var (
	venvNames      = []string{"venv", ".venv"}
	systemPythons  = []string{"python3", "python"}
	unixVenvBin    = filepath.Join("bin", "python")
	windowsVenvBin = filepath.Join("Scripts", "python.exe")
)

// Prober runs an interpreter with args and reports whether it succeeded.
type Prober interface {
	Probe(ctx context.Context, name string, args ...string) error
}

// ExecProber runs probes as subprocesses.
type ExecProber struct {
	// Timeout bounds every probe, 10s when zero.
	Timeout time.Duration
}

func (p ExecProber) Probe(ctx context.Context, name string, args ...string) error {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)
	return cmd.Run()
}

// ResolveInterpreter finds a Python interpreter for the script tree in
// scriptDir. In order:
//  1. a virtual environment inside the script tree
//  2. a virtual environment of the source checkout the host was built in
//  3. a system interpreter having the required packages
//  4. any system interpreter, missing packages surface when the worker runs
func (l *Locator) ResolveInterpreter(ctx context.Context, scriptDir string) (string, error) {
	for _, p := range l.venvCandidates(scriptDir) {
		if l.isFile(p) {
			slog.DebugContext(ctx, "interpreter found", "source", "venv", "path", p)
			return p, nil
		}
	}
	for _, p := range l.buildVenvCandidates() {
		if l.isFile(p) {
			slog.DebugContext(ctx, "interpreter found", "source", "build venv", "path", p)
			return p, nil
		}
	}

	var bare []string
	for _, name := range systemPythons {
		if err := l.prober.Probe(ctx, name, "--version"); err != nil {
			continue
		}
		bare = append(bare, name)
		if err := l.prober.Probe(ctx, name, "-c", requiredImports); err != nil {
			slog.DebugContext(ctx, "interpreter lacks packages", "name", name, "error", err)
			continue
		}
		slog.DebugContext(ctx, "interpreter found", "source", "system", "name", name)
		return name, nil
	}
	if len(bare) > 0 {
		slog.WarnContext(ctx, "using interpreter without required packages", "name", bare[0])
		return bare[0], nil
	}

	return "", &ResolutionError{
		Reason:      "python interpreter not found",
		Remediation: pythonRemediation,
		Searched:    append(l.venvCandidates(scriptDir), l.buildVenvCandidates()...),
	}
}

func (l *Locator) venvBins() []string {
	if l.platform.GOOS == "windows" {
		return []string{windowsVenvBin, unixVenvBin}
	}
	return []string{unixVenvBin, windowsVenvBin}
}

func (l *Locator) venvCandidates(root string) []string {
	var out []string
	for _, venv := range venvNames {
		for _, bin := range l.venvBins() {
			out = append(out, filepath.Join(root, venv, bin))
		}
	}
	return out
}

// buildVenvCandidates infers the checkout from a host executable living in
// <checkout>/<app>/target/{debug,release}.
func (l *Locator) buildVenvCandidates() []string {
	exe := filepath.ToSlash(l.exe)
	i := strings.Index(exe, "/target/")
	if i < 0 {
		return nil
	}
	checkout := filepath.Dir(filepath.FromSlash(exe[:i]))
	return l.venvCandidates(filepath.Join(checkout, "automation"))
}

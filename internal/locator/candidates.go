package locator

import (
	"path/filepath"
)

const sidecarBase = "inboxhunter-automation"

// Candidates are the ordered lookup tables for the current platform.
type Candidates struct {
	Sidecar []string
	Scripts []string
}

var targetTriples = map[Platform]string{
	{GOOS: "darwin", GOARCH: "arm64"}:  "aarch64-apple-darwin",
	{GOOS: "darwin", GOARCH: "amd64"}:  "x86_64-apple-darwin",
	{GOOS: "windows", GOARCH: "amd64"}: "x86_64-pc-windows-msvc",
	{GOOS: "linux", GOARCH: "amd64"}:   "x86_64-unknown-linux-gnu",
	{GOOS: "linux", GOARCH: "arm64"}:   "aarch64-unknown-linux-gnu",
}

// SidecarName is the platform specific name the build gives the sidecar.
func (p Platform) SidecarName() string {
	name := sidecarBase
	if triple, ok := targetTriples[p]; ok {
		name += "-" + triple
	}
	return name + p.exeSuffix()
}

// ProductionName is the sidecar name after installers strip the triple.
func (p Platform) ProductionName() string {
	return sidecarBase + p.exeSuffix()
}

func (p Platform) exeSuffix() string {
	if p.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// Candidates returns the lookup tables. The order is the lookup order.
func (l *Locator) Candidates() Candidates {
	exeDir := filepath.Dir(l.exe)
	name := l.platform.SidecarName()
	prod := l.platform.ProductionName()

	var c Candidates
	switch l.platform.GOOS {
	case "darwin":
		// exeDir is Foo.app/Contents/MacOS
		resources := filepath.Join(exeDir, "..", "Resources")
		c.Sidecar = []string{
			filepath.Join(resources, "_up_", "automation", name),
			filepath.Join(resources, name),
			filepath.Join(exeDir, name),
		}
		c.Scripts = []string{
			filepath.Join(resources, "_up_", "automation"),
			filepath.Join(resources, "automation"),
		}
	case "windows":
		c.Sidecar = []string{
			filepath.Join(exeDir, "automation", name),
			filepath.Join(exeDir, "_up_", "automation", name),
			filepath.Join(exeDir, "resources", "automation", name),
			filepath.Join(exeDir, "resources", "_up_", "automation", name),
			filepath.Join(exeDir, name),
			filepath.Join(exeDir, prod),
		}
		c.Scripts = []string{
			filepath.Join(exeDir, "_up_", "automation"),
			filepath.Join(exeDir, "resources", "automation"),
			filepath.Join(exeDir, "resources", "_up_", "automation"),
			filepath.Join(exeDir, "automation"),
		}
	default:
		c.Sidecar = []string{
			filepath.Join(exeDir, "automation", name),
			filepath.Join(exeDir, "_up_", "automation", name),
			filepath.Join(exeDir, name),
			filepath.Join(exeDir, prod),
		}
		c.Scripts = []string{
			filepath.Join(exeDir, "_up_", "automation"),
			filepath.Join(exeDir, "automation"),
		}
	}

	if l.mode == ModeDevelopment {
		// source checkout, the build output sits one to three levels below
		// the project root
		dev := []string{
			filepath.Join(exeDir, "..", "automation"),
			filepath.Join(exeDir, "..", "..", "automation"),
			filepath.Join(exeDir, "..", "..", "..", "automation"),
		}
		c.Scripts = append(dev, c.Scripts...)
	}

	if l.resourceDir != "" {
		c.Sidecar = append(c.Sidecar,
			filepath.Join(l.resourceDir, "automation", name),
			filepath.Join(l.resourceDir, name),
		)
		c.Scripts = append(c.Scripts, filepath.Join(l.resourceDir, "automation"))
	}
	return c
}

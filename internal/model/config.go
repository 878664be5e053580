package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	InstallModeAuto        = "auto"
	InstallModeDevelopment = "development"
	InstallModeProduction  = "production"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Config is the host configuration, inboxhunter.yaml.
type Config struct {
	Version     int    `json:"version" yaml:"version"` // fixed 0 for now
	DataDir     string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	InstallMode string `json:"install_mode" yaml:"install_mode"` // "auto" | "development" | "production"
	ResourceDir string `json:"resource_dir,omitempty" yaml:"resource_dir,omitempty"`
	Verbose     bool   `json:"verbose" yaml:"verbose"`
	Stop        Stop   `json:"stop" yaml:"stop"`
	Log         Log    `json:"log" yaml:"log"`
	Upload      Upload `json:"upload" yaml:"upload"`
}

// Stop controls the worker stop protocol. Values are Go durations.
type Stop struct {
	Timeout      string `json:"timeout" yaml:"timeout"`
	PollInterval string `json:"poll_interval" yaml:"poll_interval"`
	KillGrace    string `json:"kill_grace" yaml:"kill_grace"`
}

// Log file rotation.
type Log struct {
	MaxSizeMB  int `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days"`
}

// Upload configures log submission to the issue tracker. An empty
// Repository disables it.
type Upload struct {
	Repository  string `json:"repository" yaml:"repository"` // owner/name
	Cooldown    string `json:"cooldown" yaml:"cooldown"`
	MaxLogBytes int    `json:"max_log_bytes" yaml:"max_log_bytes"`
}

func DefaultConfig(dataDir string) Config {
	return Config{
		Version:     0,
		DataDir:     dataDir,
		InstallMode: InstallModeAuto,
		Stop: Stop{
			Timeout:      "10s",
			PollInterval: "500ms",
			KillGrace:    "2s",
		},
		Log: Log{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Upload: Upload{
			Cooldown:    "1h",
			MaxLogBytes: 180_000,
		},
	}
}

func (s Stop) TimeoutDuration() time.Duration      { return mustDuration(s.Timeout, 10*time.Second) }
func (s Stop) PollIntervalDuration() time.Duration { return mustDuration(s.PollInterval, 500*time.Millisecond) }
func (s Stop) KillGraceDuration() time.Duration    { return mustDuration(s.KillGrace, 2*time.Second) }
func (u Upload) CooldownDuration() time.Duration   { return mustDuration(u.Cooldown, time.Hour) }

// mustDuration returns dflt for empty or invalid values, LoadConfig already
// rejected the invalid ones.
func mustDuration(s string, dflt time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return dflt
	}
	return d
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	for name, value := range map[string]string{
		"stop.timeout":       out.Stop.Timeout,
		"stop.poll_interval": out.Stop.PollInterval,
		"stop.kill_grace":    out.Stop.KillGrace,
		"upload.cooldown":    out.Upload.Cooldown,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s: must be positive, got %s", name, value)
		}
	}

	return &out, nil
}

// Package settings persists the bot configuration edited by the user
// between runs.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/inboxhunter/inboxhunter/internal/model"
)

const FileName = "settings.json"

// Path returns the settings file inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Save writes cfg as indented JSON, creating the parent directory.
func Save(path string, cfg model.BotConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding settings: %w", model.ErrIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	// credentials and api keys live here
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	return nil
}

// Load reads the settings saved at path. A missing file is not an error,
// Load returns nil then.
func Load(path string) (*model.BotConfig, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	var cfg model.BotConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", model.ErrSchema, path, err)
	}
	return &cfg, nil
}

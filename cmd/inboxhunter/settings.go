package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/inboxhunter/inboxhunter/internal/model"
	"github.com/inboxhunter/inboxhunter/internal/settings"

	"github.com/spf13/cobra"
)

var flagShowSecrets bool

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "settings shows or replaces the saved worker configuration",
}

func init() {
	show := &cobra.Command{
		Use:   "show",
		Short: "print the saved settings as JSON",
		Args:  cobra.NoArgs,
		RunE:  doSettingsShow,
	}
	show.Flags().BoolVar(&flagShowSecrets, "secrets", false, "print api keys unmasked")
	settingsCmd.AddCommand(
		show,
		&cobra.Command{
			Use:   "import <file>",
			Short: "validate a JSON file and save it as the settings",
			Args:  cobra.ExactArgs(1),
			RunE:  doSettingsImport,
		},
	)
}

func doSettingsShow(_ *cobra.Command, _ []string) error {
	cfg, err := settings.Load(settings.Path(dataDir))
	if err != nil {
		return err
	}
	if cfg == nil {
		return errors.New("no settings saved yet")
	}
	if !flagShowSecrets {
		cfg.APIKeys.OpenAI = mask(cfg.APIKeys.OpenAI)
		cfg.APIKeys.Captcha = mask(cfg.APIKeys.Captcha)
	}
	return printJSON(cfg)
}

func doSettingsImport(cmd *cobra.Command, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	var cfg model.BotConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return fmt.Errorf("%w: parsing %s: %w", model.ErrSchema, args[0], err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path := settings.Path(dataDir)
	if err := settings.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("settings saved to %s\n", path)
	return nil
}

// mask keeps the ends of long secrets for recognition, short ones are
// hidden entirely.
func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

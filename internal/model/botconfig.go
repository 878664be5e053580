package model

import (
	"errors"
	"fmt"
)

const (
	DataSourceCSV      = "csv"
	DataSourceMeta     = "meta"
	DataSourceDatabase = "database"
)

// BotConfig is the worker configuration. The JSON shape is shared with the
// worker and with settings.json, keys must not change.
type BotConfig struct {
	Credentials Credentials `json:"credentials"`
	APIKeys     APIKeys     `json:"apiKeys"`
	Settings    BotSettings `json:"settings"`
}

type Credentials struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone"`
}

type APIKeys struct {
	OpenAI  string `json:"openai"`
	Captcha string `json:"captcha"`
}

type BotSettings struct {
	DataSource    string `json:"dataSource"` // "csv" | "meta" | "database"
	CSVPath       string `json:"csvPath"`
	MetaKeywords  string `json:"metaKeywords"`
	AdLimit       int    `json:"adLimit"`
	MaxSignups    int    `json:"maxSignups"`
	Headless      bool   `json:"headless"`
	Debug         bool   `json:"debug"`
	MinDelay      int    `json:"minDelay"`
	MaxDelay      int    `json:"maxDelay"`
	LLMModel      string `json:"llmModel"`
	BatchPlanning bool   `json:"batchPlanning"`
}

// Validate reports every problem found, joined.
func (c BotConfig) Validate() error {
	var errs []error
	s := c.Settings
	switch s.DataSource {
	case "", DataSourceCSV, DataSourceMeta, DataSourceDatabase:
	default:
		errs = append(errs, fmt.Errorf("settings.dataSource: unsupported value %q", s.DataSource))
	}
	if s.DataSource == DataSourceCSV && s.CSVPath == "" {
		errs = append(errs, errors.New("settings.csvPath: required for csv data source"))
	}
	if s.AdLimit < 0 {
		errs = append(errs, fmt.Errorf("settings.adLimit: must not be negative, got %d", s.AdLimit))
	}
	if s.MaxSignups < 0 {
		errs = append(errs, fmt.Errorf("settings.maxSignups: must not be negative, got %d", s.MaxSignups))
	}
	if s.MinDelay < 0 || s.MaxDelay < 0 {
		errs = append(errs, errors.New("settings.minDelay, settings.maxDelay: must not be negative"))
	}
	if s.MinDelay > s.MaxDelay {
		errs = append(errs, fmt.Errorf("settings.minDelay: %d is greater than maxDelay %d", s.MinDelay, s.MaxDelay))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

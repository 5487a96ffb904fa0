// Package config handles reading and writing checkin.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// ServerErrorPolicy decides how an ambiguous 5xx probe response is treated.
// There is deliberately no default: the value must be configured.
type ServerErrorPolicy string

const (
	ServerErrorLoggedOut ServerErrorPolicy = "logged_out"
	ServerErrorLoggedIn  ServerErrorPolicy = "logged_in"
)

// MissingControlPolicy decides whether an absent action control is a
// failure or an expected no-action day (e.g. weekends).
type MissingControlPolicy string

const (
	MissingControlFail MissingControlPolicy = "fail"
	MissingControlSkip MissingControlPolicy = "skip"
)

// Config is the top-level structure for checkin.yaml.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Target    TargetConfig          `yaml:"target"`
	Selectors Selectors             `yaml:"selectors"`
	Policies  Policies              `yaml:"policies"`
	Timing    Timing                `yaml:"timing"`
	Schedule  models.ScheduleConfig `yaml:"schedule"`
	Notify    NotifyConfig          `yaml:"notify"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ProfileDir      string `yaml:"profile_dir"`
	TriggersPerHour int    `yaml:"triggers_per_hour"`
	TriggerBurst    int    `yaml:"trigger_burst"`
}

// TargetConfig names the portal endpoints the automation drives.
type TargetConfig struct {
	BaseURL       string `yaml:"base_url"`
	HomeURL       string `yaml:"home_url"`
	ProbeURL      string `yaml:"probe_url"`
	LoginURL      string `yaml:"login_url"`
	LoginProvider string `yaml:"login_provider"`
}

// Selectors is the CSS selector table for the target page. The portal's
// markup churns, so these live in configuration rather than code.
type Selectors struct {
	LoginUsername   string `yaml:"login_username"`
	LoginPassword   string `yaml:"login_password"`
	LoginSubmit     string `yaml:"login_submit"`
	DashboardMarker string `yaml:"dashboard_marker"`
	PresenceStatus  string `yaml:"presence_status"`
	ActionControl   string `yaml:"action_control"`
	ActionText      string `yaml:"action_text"`
	MenuEntryText   string `yaml:"menu_entry_text"`
}

// Policies holds the behaviours the original flow left ambiguous.
type Policies struct {
	ServerError    ServerErrorPolicy    `yaml:"server_error"`
	MissingControl MissingControlPolicy `yaml:"missing_control"`
}

// Timing parameterizes every bounded wait in the flow.
type Timing struct {
	PollIntervalMs      int `yaml:"poll_interval_ms"`
	DashboardDeadlineMs int `yaml:"dashboard_deadline_ms"`
	ConfirmRetries      int `yaml:"confirm_retries"`
	CloseGraceMs        int `yaml:"close_grace_ms"`
	SessionTTLMin       int `yaml:"session_ttl_minutes"`
	FreshnessWindowH    int `yaml:"freshness_window_hours"`
}

func (t Timing) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

func (t Timing) DashboardDeadline() time.Duration {
	return time.Duration(t.DashboardDeadlineMs) * time.Millisecond
}

func (t Timing) CloseGrace() time.Duration {
	return time.Duration(t.CloseGraceMs) * time.Millisecond
}

func (t Timing) SessionTTL() time.Duration {
	return time.Duration(t.SessionTTLMin) * time.Minute
}

func (t Timing) FreshnessWindow() time.Duration {
	return time.Duration(t.FreshnessWindowH) * time.Hour
}

// NotifyConfig controls completion notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// ReadConfig reads a checkin.yaml from the given path, applies defaults and
// validates the result.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WriteConfig writes cfg back to path. Used to persist schedule changes.
func WriteConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks the fields that have no safe fallback.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("target.base_url is required")
	}
	if c.Target.HomeURL == "" {
		return fmt.Errorf("target.home_url is required")
	}
	if c.Target.ProbeURL == "" {
		return fmt.Errorf("target.probe_url is required")
	}
	if c.Target.LoginURL == "" {
		return fmt.Errorf("target.login_url is required")
	}

	switch c.Policies.ServerError {
	case ServerErrorLoggedOut, ServerErrorLoggedIn:
	case "":
		return fmt.Errorf("policies.server_error must be set to %q or %q", ServerErrorLoggedOut, ServerErrorLoggedIn)
	default:
		return fmt.Errorf("unknown policies.server_error %q", c.Policies.ServerError)
	}

	switch c.Policies.MissingControl {
	case MissingControlFail, MissingControlSkip:
	default:
		return fmt.Errorf("unknown policies.missing_control %q", c.Policies.MissingControl)
	}

	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		return fmt.Errorf("schedule.hour out of range: %d", c.Schedule.Hour)
	}
	if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
		return fmt.Errorf("schedule.minute out of range: %d", c.Schedule.Minute)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults. Target
// endpoints and the 5xx policy must still be supplied by the user.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ProfileDir:      "./storage/profile",
			TriggersPerHour: 12,
			TriggerBurst:    3,
		},
		Selectors: Selectors{
			LoginUsername:  "input[name='loginInput']",
			LoginPassword:  "input[name='passwordInput']",
			LoginSubmit:    "button[type='submit']",
			PresenceStatus: ".time-tracking-card-status-label--present, [class*='-present']",
			ActionControl:  ".smart-button.smart-button-add",
			ActionText:     "(?i)rozpocznij",
		},
		Policies: Policies{
			MissingControl: MissingControlFail,
		},
		Timing: Timing{
			PollIntervalMs:      500,
			DashboardDeadlineMs: 10000,
			ConfirmRetries:      20,
			CloseGraceMs:        5000,
			SessionTTLMin:       15,
			FreshnessWindowH:    29 * 24,
		},
		Schedule: models.ScheduleConfig{
			Hour:   8,
			Minute: 5,
		},
	}
}

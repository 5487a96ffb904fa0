package models

import "time"

// ScheduleConfig is the persisted daily-trigger preference
type ScheduleConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Hour    int  `json:"hour" yaml:"hour"`
	Minute  int  `json:"minute" yaml:"minute"`
	Notify  bool `json:"notify" yaml:"notify"`
}

// AuthState is the orchestrator's view of the authentication record,
// returned to callers that decide whether re-login can be skipped.
type AuthState struct {
	IsAuthenticated bool      `json:"isAuthenticated"`
	Timestamp       time.Time `json:"timestamp"`
	CooldownActive  bool      `json:"cooldownActive"`
}

// Package api defines the JSON data transfer objects shared by the daemon's
// local HTTP API and the CLI client.
package api

import (
	"time"

	"github.com/portalkeep/portalkeep/internal/eventbus"
)

// StatusResponse describes the daemon and controller state.
type StatusResponse struct {
	Version                string      `json:"version"`
	State                  string      `json:"state"`
	AutoReconnect          bool        `json:"auto_reconnect"`
	EffectiveAutoReconnect bool        `json:"effective_auto_reconnect"`
	ForcedAutoReconnect    bool        `json:"forced_auto_reconnect"`
	CheckInterval          int         `json:"check_interval"`
	PeriodicLoginInterval  int         `json:"periodic_login_interval"`
	CredentialsConfigured  bool        `json:"credentials_configured"`
	Username               string      `json:"username,omitempty"`
	UptimeSeconds          float64     `json:"uptime_seconds"`
	PeriodicLoginDue       *time.Time  `json:"periodic_login_due,omitempty"`
	LastOutcome            *OutcomeDTO `json:"last_outcome,omitempty"`
	LastProbe              *ProbeDTO   `json:"last_probe,omitempty"`
}

// OutcomeDTO is the wire form of a finished login attempt.
type OutcomeDTO struct {
	AttemptID  string    `json:"attempt_id"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ProbeDTO is the wire form of a connectivity probe result.
type ProbeDTO struct {
	Reachable bool      `json:"reachable"`
	ProbeURL  string    `json:"probe_url"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// LoginResponse reports a requested login attempt. Completed is false when
// the attempt was still running when the request deadline passed; the
// outcome then arrives via the event stream or a later status call.
type LoginResponse struct {
	AttemptID string      `json:"attempt_id"`
	Completed bool        `json:"completed"`
	Outcome   *OutcomeDTO `json:"outcome,omitempty"`
}

// ToggleRequest carries a boolean setting update.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// IntervalRequest carries an interval setting update in seconds.
type IntervalRequest struct {
	Seconds int `json:"seconds"`
}

// ConfigView is a read-only summary of the active configuration. Credentials
// are never included.
type ConfigView struct {
	Path                  string  `json:"path"`
	LoginURL              string  `json:"login_url"`
	Username              string  `json:"username,omitempty"`
	CredentialsConfigured bool    `json:"credentials_configured"`
	HeaderCount           int     `json:"header_count"`
	AutoReconnect         bool    `json:"auto_reconnect"`
	ForcedAutoReconnect   bool    `json:"forced_auto_reconnect"`
	CheckInterval         int     `json:"check_interval"`
	ProbeURL              string  `json:"test_url"`
	ProbeTimeout          float64 `json:"test_timeout"`
	PeriodicLoginInterval int     `json:"periodic_login_interval"`
}

// ConfigReloadDTO is the wire form of a configuration reload notification.
type ConfigReloadDTO struct {
	Path     string `json:"path"`
	External bool   `json:"external"`
}

// HistoryResponse lists recorded login attempts, newest first.
type HistoryResponse struct {
	Attempts []OutcomeDTO `json:"attempts"`
}

// EventMessage is one event-stream frame. Type is the bus topic name.
type EventMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// OutcomeFromEvent converts a bus event into its wire form.
func OutcomeFromEvent(ev eventbus.LoginOutcomeEvent) OutcomeDTO {
	return OutcomeDTO{
		AttemptID:  ev.AttemptID,
		Trigger:    ev.Trigger,
		Status:     ev.Status,
		Message:    ev.Message,
		StartedAt:  ev.StartedAt,
		FinishedAt: ev.FinishedAt,
	}
}

// ProbeFromEvent converts a bus event into its wire form.
func ProbeFromEvent(ev eventbus.ProbeStatusEvent) ProbeDTO {
	return ProbeDTO{
		Reachable: ev.Reachable,
		ProbeURL:  ev.ProbeURL,
		LatencyMS: ev.Latency.Milliseconds(),
		CheckedAt: ev.CheckedAt,
	}
}

// ReloadFromEvent converts a bus event into its wire form.
func ReloadFromEvent(ev eventbus.ConfigReloadedEvent) ConfigReloadDTO {
	return ConfigReloadDTO{
		Path:     ev.Path,
		External: ev.External,
	}
}

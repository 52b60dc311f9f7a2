package server

import (
	"context"

	"github.com/portalkeep/portalkeep/internal/history"
	"github.com/portalkeep/portalkeep/internal/reconnect"
)

// ReconnectController is the controller surface the API server drives.
// *reconnect.Controller satisfies it; tests substitute fakes.
type ReconnectController interface {
	RequestLogin(ctx context.Context) (string, error)
	SetAutoReconnect(ctx context.Context, enabled bool) error
	SetCheckInterval(ctx context.Context, seconds int) error
	SetPeriodicLoginInterval(ctx context.Context, seconds int) error
	RequestConfigReload(ctx context.Context) error
	Status() reconnect.Status
}

// HistoryStore exposes the read side of the attempt log.
type HistoryStore interface {
	RecentAttempts(ctx context.Context, limit int) ([]history.Attempt, error)
}

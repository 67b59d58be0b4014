// Package db persists gateway state: session records in Postgres (or memory)
// and cadence counters in Redis.
package db

import (
	"context"
	"errors"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

var (
	// ErrSessionNotFound is returned when no session has the requested ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")
)

// SessionRepository stores the SessionInfo each gateway session was opened with.
type SessionRepository interface {
	Create(ctx context.Context, s models.SessionInfo) error
	Get(ctx context.Context, id string) (models.SessionInfo, error)
	Delete(ctx context.Context, id string) error
}

package store

import (
	"context"

	"github.com/joescharf/autoloop/internal/models"
)

// Store defines the persistence interface for autoloop.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error

	// Turn log
	AppendTurn(ctx context.Context, t *models.TurnRecord) error
	ListTurns(ctx context.Context, sessionID string) ([]*models.TurnRecord, error)
	TurnCount(ctx context.Context, sessionID string) (int, error)

	// Reflection findings
	SaveFindings(ctx context.Context, sessionID string, findings []models.ReflectionFinding) error
	ListFindings(ctx context.Context, sessionID string) ([]*models.ReflectionFinding, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

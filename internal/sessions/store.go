package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/sessiond/pkg/models"
)

// ErrSessionNotFound is returned when a session id has no stored session.
var ErrSessionNotFound = errors.New("session not found")

// Store is the interface for session and message persistence. Implementations
// must be safe for concurrent use and idempotent-safe across executor retries.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	History(ctx context.Context, sessionID string) ([]*models.Message, error)

	// HistoryUpTo returns the first cutoff messages of a session in
	// chronological order. A cutoff <= 0 returns the full history.
	HistoryUpTo(ctx context.Context, sessionID string, cutoff int) ([]*models.Message, error)
}

package remote

import (
	"context"

	"github.com/riskibarqy/teamsync/internal/domain/record"
)

// Row is a record as returned by the backend.
type Row map[string]any

// Gateway is the backend the queue drains into. Implementations must tag
// errors with a Kind (see Mark) so failures can be classified.
type Gateway interface {
	Create(ctx context.Context, entityType record.Type, payload []byte) (Row, error)
	Update(ctx context.Context, entityType record.Type, id string, payload []byte) (Row, error)
	Delete(ctx context.Context, entityType record.Type, id string) error
	// GenerateTeamCode asks the backend for a fresh join code not used by any team.
	GenerateTeamCode(ctx context.Context, teamID string) (string, error)
}

package repositories

import (
	"context"

	"github.com/voicelab/voicegate/domain/entities"
)

// SessionOutcomeRepository persists the final record of a voice session.
// Storage itself is an external collaborator; the gateway only hands the
// outcome over.
type SessionOutcomeRepository interface {
	Save(ctx context.Context, outcome *entities.SessionOutcome) error
}

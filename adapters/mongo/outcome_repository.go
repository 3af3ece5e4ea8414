package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/voicelab/voicegate/domain/entities"
	"github.com/voicelab/voicegate/domain/repositories"
)

type OutcomeRepository struct {
	collection *mongo.Collection
}

// NewOutcomeRepository creates a MongoDB session outcome repository.
func NewOutcomeRepository(db *mongo.Database) repositories.SessionOutcomeRepository {
	return &OutcomeRepository{
		collection: db.Collection("session_outcomes"),
	}
}

// Save implements repositories.SessionOutcomeRepository. Outcomes are
// write-once; a finished session is never updated.
func (r *OutcomeRepository) Save(ctx context.Context, outcome *entities.SessionOutcome) error {
	if outcome == nil {
		return errors.New("outcome cannot be nil")
	}
	if outcome.SessionID == "" {
		return errors.New("outcome session ID cannot be empty")
	}

	doc := bson.M{
		"session_id":  outcome.SessionID,
		"model_id":    outcome.ModelID,
		"user_id":     outcome.UserID,
		"started_at":  outcome.StartedAt,
		"ended_at":    outcome.EndedAt,
		"duration_ms": outcome.DurationMs,
		"messages":    outcome.Messages,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save session outcome: %w", err)
	}
	return nil
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/backoffice-reconciliation/internal/domain/audit"
)

// RunCollectionName is the name of the run log collection in MongoDB
const RunCollectionName = "reconciliation_runs"

// RunIndexes are the indexes the run log queries rely on
func RunIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	}
}

// RunRepository implements the audit.RunRepository interface for MongoDB
type RunRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

func NewRunRepository(logger *slog.Logger, db *mongo.Database) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a finished run summary
func (r *RunRepository) Create(ctx context.Context, run *audit.Run) error {
	_, err := r.db.Collection(RunCollectionName).InsertOne(ctx, run)
	if err != nil {
		r.logger.Error("Failed to store run summary",
			"run_id", run.RunID.String(),
			"error", err)
		return fmt.Errorf("failed to store run summary: %w", err)
	}
	return nil
}

// GetByID retrieves a run summary by its id
func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*audit.Run, error) {
	var run audit.Run
	err := r.db.Collection(RunCollectionName).FindOne(ctx, bson.M{"run_id": runID}).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, audit.ErrRunNotFound{RunID: runID}
		}
		r.logger.Error("Failed to get run summary",
			"run_id", runID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get run summary: %w", err)
	}
	return &run, nil
}

// ListRecent returns the latest run summaries, newest first
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*audit.Run, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.db.Collection(RunCollectionName).Find(ctx, bson.M{}, opts)
	if err != nil {
		r.logger.Error("Failed to list run summaries", "error", err)
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*audit.Run
	if err := cursor.All(ctx, &runs); err != nil {
		r.logger.Error("Failed to decode run summaries", "error", err)
		return nil, fmt.Errorf("failed to decode run summaries: %w", err)
	}
	return runs, nil
}

var _ audit.RunRepository = (*RunRepository)(nil)

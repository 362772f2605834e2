package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// TraderRepo persists each trading-simulation roster member's carried-over
// notes, one row per (session_id, name), grounded on repositories.py's
// TraderRepository.upsert_trader.
type TraderRepo struct{ base }

// Load returns the trader's last-saved state, or (nil, nil) if it has
// never run in this session, per simulation.TraderStateStore.
func (r *TraderRepo) Load(ctx context.Context, sessionID, name string) (*domain.TraderState, error) {
	var doc domain.TraderState
	err := r.coll.FindOne(ctx, bson.M{"session_id": sessionID, "name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save upserts the trader's state, overwriting notes, per
// simulation.TraderStateStore and the "upsert to handle race conditions"
// comment in upsert_trader.
func (r *TraderRepo) Save(ctx context.Context, state *domain.TraderState) error {
	state.UpdatedAt = time.Now().UTC()
	filter := bson.M{"session_id": state.SessionID, "name": state.Name}
	update := bson.M{"$set": bson.M{
		"session_id": state.SessionID,
		"name":       state.Name,
		"type":       state.Type,
		"notes":      state.Notes,
		"updated_at": state.UpdatedAt,
	}}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// SessionTraders returns every trader-state row for a session, ordered by
// name.
func (r *TraderRepo) SessionTraders(ctx context.Context, sessionID string) ([]domain.TraderState, error) {
	var out []domain.TraderState
	err := r.findAll(ctx, findQuery{
		Filters: bson.M{"session_id": sessionID},
		OrderBy: "name",
	}, &out)
	return out, err
}

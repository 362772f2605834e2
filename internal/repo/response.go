package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/phenomenon0/forecastmarket/internal/forecast"
)

// ForecasterResponseRepo persists the final (session, persona) forecast
// outcome — the sole authority for prediction/confidence/duration fields,
// per domain.Session's doc comment.
type ForecasterResponseRepo struct{ base }

// Create inserts a running forecaster response row for a session/persona
// pair, per forecast.ResponseStore.
func (r *ForecasterResponseRepo) Create(ctx context.Context, sessionID, persona string) (string, error) {
	return r.create(ctx, bson.M{
		"session_id": sessionID,
		"persona":    persona,
		"status":     "running",
	})
}

// Complete stores the synthesis result and marks the response completed.
func (r *ForecasterResponseRepo) Complete(ctx context.Context, responseID string, result forecast.SynthesisResult, durations map[string]float64, totalSeconds float64) error {
	return r.update(ctx, responseID, bson.M{
		"status":                  "completed",
		"prediction":              result.Prediction,
		"prediction_probability":  result.PredictionProbability,
		"confidence":              result.Confidence,
		"reasoning":               result.Reasoning,
		"key_factors":             result.KeyFactors,
		"phase_durations":         durations,
		"total_duration_seconds":  totalSeconds,
		"completed_at":            time.Now().UTC(),
	})
}

// Fail marks the response failed with an error message.
func (r *ForecasterResponseRepo) Fail(ctx context.Context, responseID, errMsg string) error {
	return r.update(ctx, responseID, bson.M{
		"status":        "failed",
		"error_message": errMsg,
		"completed_at":  time.Now().UTC(),
	})
}

// SessionResponses returns all forecaster responses for a session, oldest
// first.
func (r *ForecasterResponseRepo) SessionResponses(ctx context.Context, sessionID string) ([]bson.M, error) {
	var out []bson.M
	err := r.findAll(ctx, findQuery{Filters: bson.M{"session_id": sessionID}, OrderBy: "created_at"}, &out)
	return out, err
}

package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// SessionRepo persists forecast sessions. Prediction/confidence/duration
// are never written here — ForecasterResponseRepo is the sole authority
// for those fields, per domain.Session's doc comment.
type SessionRepo struct{ base }

// sessionDoc adds the orchestrator's in-flight phase/status bookkeeping
// fields to domain.Session's persisted shape; these exist only for
// progress observability and are not part of the domain type itself.
type sessionDoc struct {
	domain.Session `bson:",inline"`
	Status         string `bson:"status"`
	CurrentPhase   string `bson:"current_phase,omitempty"`
}

// Create inserts a new session row with started_at set to now.
func (r *SessionRepo) Create(ctx context.Context, questionText string, questionType domain.QuestionType) (*domain.Session, error) {
	now := time.Now().UTC()
	doc := bson.M{
		"question_text": questionText,
		"question_type": questionType,
		"started_at":    now,
		"created_at":    now,
		"status":        "running",
	}
	id, err := r.create(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:           id,
		QuestionText: questionText,
		QuestionType: questionType,
		CreatedAt:    now,
		StartedAt:    now,
	}, nil
}

// FindByID loads a session by id.
func (r *SessionRepo) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var doc sessionDoc
	if err := r.findByID(ctx, id, &doc); err != nil {
		return nil, err
	}
	return &doc.Session, nil
}

// UpdateStatus records the orchestrator's current status/phase, per
// forecast.SessionStore.
func (r *SessionRepo) UpdateStatus(ctx context.Context, sessionID string, status, phase string) error {
	return r.update(ctx, sessionID, bson.M{"status": status, "current_phase": phase})
}

// MarkCompleted sets completed_at. prediction/confidence/duration are
// accepted for interface compatibility but intentionally ignored — they
// belong to forecaster_responses, mirroring repositories.py's
// SessionRepository.mark_completed docstring.
func (r *SessionRepo) MarkCompleted(ctx context.Context, sessionID string, predictionProbability, confidence *float64, totalDurationSeconds float64) error {
	now := time.Now().UTC()
	return r.update(ctx, sessionID, bson.M{"completed_at": now, "status": "completed"})
}

// Status reports "failed" if the orchestrator recorded a terminal failure,
// "completed" if completed_at is set, "running" otherwise, or "not_found"
// if the session doesn't exist.
func (r *SessionRepo) Status(ctx context.Context, sessionID string) (string, error) {
	var doc sessionDoc
	if err := r.findByID(ctx, sessionID, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "not_found", nil
		}
		return "", err
	}
	if doc.Status == "failed" {
		return "failed", nil
	}
	if doc.CompletedAt != nil {
		return "completed", nil
	}
	return "running", nil
}

// List returns sessions newest-first, optionally filtered by a
// case-insensitive substring of the question text, per QueryBuilder's
// find_all/count pair.
func (r *SessionRepo) List(ctx context.Context, questionTextFilter string, limit, offset int) ([]*domain.Session, int64, error) {
	filters := bson.M{}
	if questionTextFilter != "" {
		filters["question_text"] = bson.M{"$regex": questionTextFilter, "$options": "i"}
	}

	total, err := r.count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	var docs []sessionDoc
	q := findQuery{Filters: filters, OrderBy: "created_at", OrderDesc: true, Limit: int64(limit), Offset: int64(offset)}
	if err := r.findAll(ctx, q, &docs); err != nil {
		return nil, 0, err
	}

	sessions := make([]*domain.Session, len(docs))
	for i := range docs {
		sessions[i] = &docs[i].Session
	}
	return sessions, total, nil
}

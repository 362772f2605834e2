package repo

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// FactorRepo persists discovered/validated/rated/researched factors.
type FactorRepo struct{ base }

// Create inserts a new factor row for a session, per forecast.FactorStore.
func (r *FactorRepo) Create(ctx context.Context, f *domain.Factor) error {
	doc := bson.M{
		"session_id":  f.SessionID,
		"name":        f.Name,
		"description": f.Description,
	}
	if f.Category != "" {
		doc["category"] = f.Category
	}
	if f.ImportanceScore != nil {
		doc["importance_score"] = *f.ImportanceScore
	}
	id, err := r.create(ctx, doc)
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

// SessionFactors returns a session's factors. When orderByImportance is
// true, factors are sorted by importance_score descending with nulls
// sorted last — done in Go after fetch, mirroring repositories.py's
// get_session_factors comment that None values need Python-side sorting
// since Mongo's default sort treats missing fields inconsistently across
// drivers. Otherwise factors are returned newest-first by created_at.
func (r *FactorRepo) SessionFactors(ctx context.Context, sessionID string, orderByImportance bool) ([]*domain.Factor, error) {
	var docs []domain.Factor
	q := findQuery{Filters: bson.M{"session_id": sessionID}}
	if !orderByImportance {
		q.OrderBy = "created_at"
		q.OrderDesc = true
	}
	if err := r.findAll(ctx, q, &docs); err != nil {
		return nil, err
	}

	out := make([]*domain.Factor, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}

	if orderByImportance {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].ImportanceScore, out[j].ImportanceScore
			if a == nil && b == nil {
				return false
			}
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return *a > *b
		})
	}
	return out, nil
}

// SetImportance stores a factor's importance score.
func (r *FactorRepo) SetImportance(ctx context.Context, factorID string, score float64) error {
	return r.update(ctx, factorID, bson.M{"importance_score": score})
}

// SetResearchSummary stores a factor's combined research findings.
func (r *FactorRepo) SetResearchSummary(ctx context.Context, factorID, summary string) error {
	return r.update(ctx, factorID, bson.M{"research_summary": summary})
}

package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// AgentLogRepo persists one row per agent execution.
type AgentLogRepo struct{ base }

// Create inserts a new running agent log row, per forecast.AgentLogStore.
func (r *AgentLogRepo) Create(ctx context.Context, log *domain.AgentLog) (string, error) {
	if log.Status == "" {
		log.Status = domain.AgentRunning
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}
	doc := bson.M{
		"session_id":  log.SessionID,
		"agent_name":  log.AgentName,
		"phase":       log.Phase,
		"status":      log.Status,
		"token_count": log.TokenCount,
		"started_at":  log.StartedAt,
	}
	return r.create(ctx, doc)
}

// Update records the terminal status, output, token count, and error for
// one agent log row; finished_at is only set on completed/failed.
func (r *AgentLogRepo) Update(ctx context.Context, logID string, status domain.AgentLogStatus, output any, tokenCount int, errMsg string) error {
	fields := bson.M{"status": status, "token_count": tokenCount}
	if status == domain.AgentCompleted || status == domain.AgentFailed {
		fields["finished_at"] = time.Now().UTC()
	}
	if output != nil {
		fields["output"] = output
	}
	if errMsg != "" {
		fields["error_message"] = errMsg
	}
	return r.update(ctx, logID, fields)
}

// SessionLogs returns every agent log for a session, oldest first,
// optionally filtered to one phase.
func (r *AgentLogRepo) SessionLogs(ctx context.Context, sessionID string, phase domain.PhaseName) ([]domain.AgentLog, error) {
	filters := bson.M{"session_id": sessionID}
	if phase != "" {
		filters["phase"] = phase
	}
	var out []domain.AgentLog
	err := r.findAll(ctx, findQuery{Filters: filters, OrderBy: "started_at", OrderDesc: false}, &out)
	return out, err
}

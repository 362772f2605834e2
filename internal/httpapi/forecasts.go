package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/apperr"
	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/forecast"
)

type createForecastRequest struct {
	QuestionText string                     `json:"question_text"`
	QuestionType string                     `json:"question_type"`
	Persona      string                     `json:"persona"`
	AgentCounts  *forecast.PhaseAgentCounts `json:"agent_counts"`
}

type createForecastResponse struct {
	ID           string    `json:"id"`
	QuestionText string    `json:"question_text"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) handleCreateForecast(w http.ResponseWriter, r *http.Request) {
	var req createForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode request body: %v", apperr.ErrInvalidInput, err))
		return
	}
	if req.QuestionText == "" {
		writeError(w, fmt.Errorf("%w: question_text is required", apperr.ErrInvalidInput))
		return
	}
	questionType := domain.QuestionType(req.QuestionType)
	if questionType == "" {
		questionType = domain.QuestionBinary
	}
	persona := req.Persona
	if persona == "" {
		persona = "balanced"
	}

	session, err := s.store.Sessions.Create(r.Context(), req.QuestionText, questionType)
	if err != nil {
		writeError(w, err)
		return
	}

	s.runOrchestratorAsync(session.ID, req.QuestionText, persona, req.AgentCounts)

	writeJSON(w, http.StatusCreated, createForecastResponse{
		ID:           session.ID,
		QuestionText: session.QuestionText,
		Status:       "running",
		CreatedAt:    session.CreatedAt,
	})
}

type forecastDetail struct {
	ID           string            `json:"id"`
	QuestionText string            `json:"question_text"`
	QuestionType string            `json:"question_type"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Factors      []*domain.Factor  `json:"factors"`
	AgentLogs    []domain.AgentLog `json:"agent_logs"`
	Responses    []any             `json:"forecaster_responses"`
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	session, err := s.store.Sessions.FindByID(ctx, id)
	if err != nil {
		writeError(w, fmt.Errorf("%w: session %s", apperr.ErrNotFound, id))
		return
	}

	status, err := s.store.Sessions.Status(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	factors, err := s.store.Factors.SessionFactors(ctx, id, true)
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.store.AgentLogs.SessionLogs(ctx, id, "")
	if err != nil {
		writeError(w, err)
		return
	}
	responses, err := s.store.Responses.SessionResponses(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	responsesAny := make([]any, len(responses))
	for i, resp := range responses {
		responsesAny[i] = resp
	}

	writeJSON(w, http.StatusOK, forecastDetail{
		ID:           session.ID,
		QuestionText: session.QuestionText,
		QuestionType: string(session.QuestionType),
		Status:       status,
		CreatedAt:    session.CreatedAt,
		StartedAt:    session.StartedAt,
		CompletedAt:  session.CompletedAt,
		Factors:      factors,
		AgentLogs:    logs,
		Responses:    responsesAny,
	})
}

type listForecastsResponse struct {
	Sessions []*domain.Session `json:"sessions"`
	Total    int64             `json:"total"`
}

func (s *Server) handleListForecasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 20)
	offset := parseIntDefault(q.Get("offset"), 0)
	questionText := q.Get("question_text")

	sessions, total, err := s.store.Sessions.List(r.Context(), questionText, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listForecastsResponse{Sessions: sessions, Total: total})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

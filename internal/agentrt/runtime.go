// Package agentrt is the per-agent execution shell every forecast and
// trading agent flows through: build a user message, invoke the LLM
// client, validate the reply against a schema, retry transient failures,
// and report status transitions. Grounded on
// _examples/original_source/backend/app/agents/base.py's BaseAgent.execute()
// and pkg/trader/agents/forecaster.go's retry scaffolding.
package agentrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phenomenon0/forecastmarket/internal/apperr"
	"github.com/phenomenon0/forecastmarket/internal/domain"
	"github.com/phenomenon0/forecastmarket/internal/llmclient"
)

// Status is the agent execution lifecycle.
type Status string

const (
	StateInitialized Status = "initialized"
	StateRunning     Status = "running"
	StateCompleted   Status = "completed"
	StateFailed      Status = "failed"
	StateSkipped     Status = "skipped"
)

// ProgressFunc receives lifecycle transitions. Must be safe to call from
// the scheduling goroutine.
type ProgressFunc func(agentName string, state Status, payload map[string]any, err error)

// BuildUserMessage constructs the user message for one execution. May
// itself perform I/O (e.g. fetching posts); its failure is treated like any
// other attempt failure and retried.
type BuildUserMessage func(ctx context.Context, input any) (string, error)

// Fallback produces a deterministic payload when a reply fails schema
// validation; Execute uses it on the first such failure, without retrying.
type Fallback func(lastErr error) map[string]any

// Spec configures one agent's execution shell. Agents differ only by
// AgentName, Phase, SystemPrompt, Schema, BuildMessage, and Fallback.
type Spec struct {
	AgentName    string
	Phase        domain.PhaseName
	SystemPrompt string
	Schema       map[string]any
	Tools        []llmclient.ToolDef
	Temperature  float64
	MaxTokens    int

	MaxRetries     int
	TimeoutSeconds int

	BuildMessage BuildUserMessage
	Fallback     Fallback
	OnProgress   ProgressFunc
}

// Completer is the subset of llmclient.Client's surface the runtime needs,
// kept as an interface so tests can substitute a stub.
type Completer interface {
	Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error)
}

// Result is what Execute returns on completion (successful or via
// fallback).
type Result struct {
	Status     Status
	Payload    map[string]any
	Usage      llmclient.Usage
	Err        error
	WebSearch  bool
}

// Execute runs Spec's agent to completion, moving it through the
// lifecycle initialized -> running -> completed|failed|skipped.
func Execute(ctx context.Context, client Completer, spec Spec, input any) Result {
	notify := func(state Status, payload map[string]any, err error) {
		if spec.OnProgress != nil {
			spec.OnProgress(spec.AgentName, state, payload, err)
		}
	}
	notify(StateInitialized, nil, nil)

	maxRetries := spec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	notify(StateRunning, nil, nil)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		payload, usage, err := attemptOnce(ctx, client, spec, input, timeout)
		if err == nil {
			notify(StateCompleted, payload, nil)
			return Result{Status: StateCompleted, Payload: payload, Usage: usage}
		}

		lastErr = err

		if apperr.Is(err, apperr.ErrInvalidOutput) && spec.Fallback != nil {
			fallbackPayload := spec.Fallback(err)
			notify(StateCompleted, fallbackPayload, nil)
			return Result{Status: StateCompleted, Payload: fallbackPayload, Err: err}
		}

		// Rate-limit errors from the LLM client get an additional longer
		// backoff (5*2^attempt) because the client has already retried
		// internally; other failures get the standard 2^attempt backoff.
		var delay time.Duration
		if apperr.Is(err, apperr.ErrRateLimited) {
			delay = time.Duration(5*(1<<uint(attempt))) * time.Second
		} else {
			delay = time.Duration(1<<uint(attempt)) * time.Second
		}

		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = fmt.Errorf("%w: %v", apperr.ErrNetwork, ctx.Err())
			attempt = maxRetries
		}
	}

	notify(StateFailed, nil, lastErr)
	return Result{Status: StateFailed, Err: fmt.Errorf("agent %s failed: %w", spec.AgentName, lastErr)}
}

func attemptOnce(ctx context.Context, client Completer, spec Spec, input any, timeout time.Duration) (map[string]any, llmclient.Usage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	userMsg, err := spec.BuildMessage(attemptCtx, input)
	if err != nil {
		return nil, llmclient.Usage{}, fmt.Errorf("%w: build_user_message: %v", apperr.ErrTimeout, err)
	}

	req := llmclient.CompletionRequest{
		System:      spec.SystemPrompt,
		Messages:    []llmclient.Message{{Role: "user", Content: userMsg}},
		Schema:      spec.Schema,
		Tools:       spec.Tools,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	}

	result, err := client.Complete(attemptCtx, req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, llmclient.Usage{}, fmt.Errorf("%w: %v", apperr.ErrTimeout, err)
		}
		return nil, llmclient.Usage{}, err
	}

	// If the agent had tool calls to execute, dispatch is handled inside
	// llmclient.Complete's tool round-trip; by the time we get here the
	// reply already reflects the follow-up call.
	payload, err := parseSchema(result.Content)
	if err != nil {
		return nil, result.Usage, fmt.Errorf("%w: %v", apperr.ErrInvalidOutput, err)
	}

	if len(spec.Tools) > 0 {
		payload["_web_search_metadata"] = map[string]any{"used_tools": true}
	}

	return payload, result.Usage, nil
}

func parseSchema(content string) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

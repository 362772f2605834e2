// Package llmclient is the sole choke point for every model call made by
// the forecast and trading cores: it bounds concurrency, rate-limits
// against a sliding one-minute window, retries 429s with jittered
// exponential backoff, and optionally enforces a JSON-schema-constrained
// reply. Grounded on tools/llm.go (HTTP client construction,
// provider dispatch, cost tracking) and on
// _examples/original_source/backend/app/services/grok.py (exact
// rate-limit/backoff/structured-output contract).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/phenomenon0/forecastmarket/internal/apperr"
	"github.com/phenomenon0/forecastmarket/internal/config"
	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// Message is one turn in a chat-completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef describes a tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation the model requested.
type ToolCall struct {
	Name string `json:"name"`
	Args map[string]any `json:"args"`
}

// Usage reports prompt/completion token counts for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the single operation this client exposes.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Schema      map[string]any // JSON schema the reply must conform to, or nil
	Tools       []ToolDef      // tool definitions, or nil
	Temperature float64
	MaxTokens   int
}

// CompletionResult is what every call returns.
type CompletionResult struct {
	Content   string
	Usage     Usage
	ToolCalls []ToolCall
}

// Client is a process-wide singleton: its concurrency semaphore, sliding
// request window, and rate-limit cooldown are shared by every caller that
// shares a rate-limit budget — this is deliberate global mutable state,
// the same budget every caller in the process draws against.
type Client struct {
	cfg    config.LLM
	http   *http.Client
	log    *logging.Logger
	limiter *rate.Limiter

	sem chan struct{}

	mu             sync.Mutex
	requestTimes   []time.Time
	cooldownUntil  time.Time

	// baseURLOverride lets tests point the client at an httptest server
	// instead of a real provider endpoint.
	baseURLOverride string
}

// New constructs a Client bound to cfg. Safe to share across every
// Orchestrator, Simulation, and SemanticFilter that should draw from one
// rate-limit budget.
func New(cfg config.LLM) *Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport},
		log:  logging.New("LLM"),
		// Coarse burst-smoothing pre-check; the precise minute-window
		// accounting below is what actually enforces the contract.
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.MaxRequestsPerMinute)/60.0), cfg.MaxConcurrentRequests),
		sem:     make(chan struct{}, cfg.MaxConcurrentRequests),
	}
}

// Complete issues one chat completion, applying the full concurrency/
// rate-limit/backoff/structured-output contract.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", apperr.ErrNetwork, ctx.Err())
	}
	defer func() { <-c.sem }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}

	if err := c.waitForBudget(ctx); err != nil {
		return nil, err
	}

	maxAttempts := c.cfg.RateLimitRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, retryAfter, err := c.doCall(ctx, req)
		if err == nil {
			return result, nil
		}

		if !isRateLimitErr(err) {
			// Non-rate-limit API errors fail fast; no retry at this layer.
			return nil, err
		}
		lastErr = err

		delay := c.backoffDelay(attempt)
		if retryAfter > 0 {
			delay = retryAfter
			c.setCooldown(time.Now().Add(retryAfter))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", apperr.ErrNetwork, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: retries exhausted: %v", apperr.ErrRateLimited, lastErr)
}

// backoffDelay implements base*2^attempt + uniform_jitter(0,1), capped at
// 60s.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<uint(attempt))
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	d += jitter
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

// waitForBudget blocks until the sliding one-minute window has room and any
// active rate-limit cooldown has elapsed.
func (c *Client) waitForBudget(ctx context.Context) error {
	for {
		c.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		kept := c.requestTimes[:0]
		for _, t := range c.requestTimes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		c.requestTimes = kept

		var wait time.Duration
		if len(c.requestTimes) >= c.cfg.MaxRequestsPerMinute {
			wait = c.requestTimes[0].Add(time.Minute).Sub(now)
		}
		if c.cooldownUntil.After(now) {
			if cd := c.cooldownUntil.Sub(now); cd > wait {
				wait = cd
			}
		}

		if wait <= 0 {
			c.requestTimes = append(c.requestTimes, now)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", apperr.ErrNetwork, ctx.Err())
		}
	}
}

func (c *Client) setCooldown(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
}

// rateLimitErr wraps apperr.ErrRateLimited with the optional Retry-After
// duration the provider advertised.
type rateLimitErr struct {
	retryAfter time.Duration
	inner      error
}

func (e *rateLimitErr) Error() string { return fmt.Sprintf("rate limited: %v", e.inner) }
func (e *rateLimitErr) Unwrap() error { return apperr.ErrRateLimited }

func isRateLimitErr(err error) bool {
	_, ok := err.(*rateLimitErr)
	return ok
}

// doCall performs one HTTP round trip, including the tool-call round-trip
// when the request carries tool definitions. Returns a retry-after duration
// when the provider signals a 429.
func (c *Client) doCall(ctx context.Context, req CompletionRequest) (*CompletionResult, time.Duration, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	// Schema enforcement is skipped on the first call when tools are
	// present; the follow-up call (after tool dispatch) carries the
	// schema instead.
	firstReq := req
	if len(req.Tools) > 0 {
		firstReq.Schema = nil
	}

	resp, retryAfter, err := c.call(timeoutCtx, firstReq)
	if err != nil {
		return nil, retryAfter, err
	}

	if len(req.Tools) == 0 || len(resp.ToolCalls) == 0 {
		return resp, 0, nil
	}

	// Tool round-trip: append a synthetic tool-result message, then
	// re-invoke with the schema to produce the final structured reply.
	messages := append(append([]Message{}, req.Messages...), Message{
		Role:    "assistant",
		Content: resp.Content,
	})
	for _, tc := range resp.ToolCalls {
		messages = append(messages, Message{
			Role:    "tool",
			Content: fmt.Sprintf("result of %s: (executed by caller)", tc.Name),
		})
	}

	followUp := CompletionRequest{
		System:      req.System,
		Messages:    messages,
		Schema:      req.Schema,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	final, retryAfter2, err := c.call(timeoutCtx, followUp)
	if err != nil {
		return nil, retryAfter2, err
	}
	return final, 0, nil
}

type providerRequest struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	System         string           `json:"system,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float64          `json:"temperature,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
	Tools          []providerTool   `json:"tools,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type providerTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

// call issues one OpenAI-compatible chat-completions HTTP request. Other
// providers (anthropic, ollama) are reachable by changing cfg.Provider and
// BaseURL conventions the same way tools/llm.go dispatches —
// omitted here since the structured-output contract above is
// provider-agnostic at this layer.
func (c *Client) call(ctx context.Context, req CompletionRequest) (*CompletionResult, time.Duration, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	temp := req.Temperature
	if temp == 0 {
		temp = 0.7
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	preq := providerRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temp,
	}
	if req.Schema != nil {
		preq.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: req.Schema}
	}
	for _, t := range req.Tools {
		var pt providerTool
		pt.Type = "function"
		pt.Function.Name = t.Name
		pt.Function.Description = t.Description
		pt.Function.Parameters = t.Parameters
		preq.Tools = append(preq.Tools, pt)
	}

	body, err := json.Marshal(preq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
	}

	baseURL := c.baseURLOverride
	if baseURL == "" {
		baseURL = providerBaseURL(c.cfg.Provider)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header)
		c.refreshCooldownFromHeaders(resp.Header)
		return nil, retryAfter, &rateLimitErr{retryAfter: retryAfter}
	}

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: status %d: %s", apperr.ErrUpstream, resp.StatusCode, string(raw))
	}

	c.refreshCooldownFromHeaders(resp.Header)

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apperr.ErrInvalidOutput, err)
	}
	if len(decoded.Choices) == 0 {
		return nil, 0, fmt.Errorf("%w: no choices in response", apperr.ErrUpstream)
	}

	msg := decoded.Choices[0].Message
	result := &CompletionResult{
		Content: msg.Content,
		Usage: Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{Name: tc.Function.Name, Args: args})
	}
	return result, 0, nil
}

// refreshCooldownFromHeaders reads provider rate-limit headers and extends
// the cooldown if the remaining-requests header signals exhaustion.
func (c *Client) refreshCooldownFromHeaders(h http.Header) {
	remaining := h.Get("x-ratelimit-remaining-requests")
	resetStr := h.Get("x-ratelimit-reset-requests")
	if remaining == "" || resetStr == "" {
		return
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 0 {
		return
	}
	if d, err := time.ParseDuration(resetStr); err == nil {
		c.setCooldown(time.Now().Add(d))
	}
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("retry-after")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func providerBaseURL(provider string) string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return "https://api.anthropic.com/v1"
	case "openrouter":
		return "https://openrouter.ai/api/v1"
	default:
		return "https://api.openai.com/v1"
	}
}

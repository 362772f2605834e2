package agentrt

import (
	"context"
	"fmt"
	"testing"

	"github.com/phenomenon0/forecastmarket/internal/llmclient"
)

type stubCompleter struct {
	calls   int
	replies []stubReply
}

type stubReply struct {
	content string
	err     error
}

func (s *stubCompleter) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	r := s.replies[i]
	if r.err != nil {
		return nil, r.err
	}
	return &llmclient.CompletionResult{Content: r.content}, nil
}

func buildMsg(ctx context.Context, input any) (string, error) { return "hello", nil }

func TestExecuteHappyPath(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{{content: `{"ok": true}`}}}
	res := Execute(context.Background(), stub, Spec{
		AgentName:      "discovery-1",
		MaxRetries:     3,
		TimeoutSeconds: 5,
		BuildMessage:   buildMsg,
	}, nil)

	if res.Status != StateCompleted {
		t.Fatalf("expected completed, got %s (err=%v)", res.Status, res.Err)
	}
	if res.Payload["ok"] != true {
		t.Errorf("unexpected payload: %+v", res.Payload)
	}
}

func TestExecuteSchemaFailureUsesFallback(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{
		{content: "not json"},
		{content: "still not json"},
	}}
	res := Execute(context.Background(), stub, Spec{
		AgentName:      "trader-1",
		MaxRetries:     2,
		TimeoutSeconds: 5,
		BuildMessage:   buildMsg,
		Fallback: func(lastErr error) map[string]any {
			return map[string]any{"prediction": 50, "signal": "uncertain"}
		},
	}, nil)

	if res.Status != StateCompleted {
		t.Fatalf("expected completed via fallback, got %s", res.Status)
	}
	if res.Payload["signal"] != "uncertain" {
		t.Errorf("expected fallback payload, got %+v", res.Payload)
	}
}

func TestExecuteFailsAfterRetriesExhausted(t *testing.T) {
	stub := &stubCompleter{replies: []stubReply{
		{err: fmt.Errorf("upstream unavailable")},
		{err: fmt.Errorf("upstream unavailable")},
	}}
	res := Execute(context.Background(), stub, Spec{
		AgentName:      "agent-x",
		MaxRetries:     2,
		TimeoutSeconds: 5,
		BuildMessage:   buildMsg,
	}, nil)

	if res.Status != StateFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Err == nil {
		t.Error("expected non-nil error naming the agent")
	}
}

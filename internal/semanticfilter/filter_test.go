package semanticfilter

import (
	"context"
	"errors"
	"testing"

	"github.com/phenomenon0/forecastmarket/internal/llmclient"
)

var errTest = errors.New("boom")

type fakeSource struct {
	posts []Post
	err   error
}

func (f *fakeSource) Fetch(ctx context.Context, req SearchRequest) ([]Post, error) {
	return f.posts, f.err
}

type fakeCompleter struct {
	queryContent   string
	indicesContent string
	failQuery      bool
	failIndices    bool
}

func (f *fakeCompleter) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error) {
	if req.MaxTokens == 300 {
		if f.failQuery {
			return nil, errTest
		}
		return &llmclient.CompletionResult{Content: f.queryContent}, nil
	}
	if f.failIndices {
		return nil, errTest
	}
	return &llmclient.CompletionResult{Content: f.indicesContent}, nil
}

func samplePosts() []Post {
	return []Post{
		{Author: "alice", Text: "Fed will hike again", Likes: 10, Retweets: 2},
		{Author: "bob", Text: "unrelated weather post", Likes: 1, Retweets: 0},
		{Author: "carol", Text: "Fed meeting next week is key", Likes: 50, Retweets: 20},
	}
}

func TestRunHappyPath(t *testing.T) {
	source := &fakeSource{posts: samplePosts()}
	completer := &fakeCompleter{
		queryContent:   `{"query": "fed OR rates OR fomc"}`,
		indicesContent: `{"indices": [3, 1]}`,
	}
	f := New(completer, source, DefaultConfig())

	res, err := f.Run(context.Background(), "Will the Fed hike rates?", "fintwit_market", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalPostsAnalyzed != 3 {
		t.Errorf("expected 3 posts analyzed, got %d", res.TotalPostsAnalyzed)
	}
	if len(res.Posts) != 2 {
		t.Fatalf("expected 2 relevant posts, got %d", len(res.Posts))
	}
	if res.Posts[0].Author != "carol" {
		t.Errorf("expected carol first (index 3), got %s", res.Posts[0].Author)
	}
	if f.LastQuery() != "fed OR rates OR fomc" {
		t.Errorf("unexpected stored query: %q", f.LastQuery())
	}
}

func TestRunFallsBackOnFilterFailure(t *testing.T) {
	source := &fakeSource{posts: samplePosts()}
	completer := &fakeCompleter{
		queryContent: `{"query": "fed OR rates"}`,
		failIndices:  true,
	}
	f := New(completer, source, DefaultConfig())

	res, err := f.Run(context.Background(), "Will the Fed hike rates?", "fintwit_market", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Posts) != 3 {
		t.Fatalf("expected fallback to return all 3 posts ranked by engagement, got %d", len(res.Posts))
	}
	if res.Posts[0].Author != "carol" {
		t.Errorf("expected carol (highest engagement) first, got %s", res.Posts[0].Author)
	}
}

func TestRunUnknownSphereErrors(t *testing.T) {
	f := New(&fakeCompleter{}, &fakeSource{}, DefaultConfig())
	if _, err := f.Run(context.Background(), "q", "not-a-sphere", ""); err == nil {
		t.Error("expected error for unknown sphere")
	}
}

func TestFallbackTopicStripsPhrasingAndExpands(t *testing.T) {
	topic := fallbackTopic("Will Bitcoin reach $100k by end of 2025?")
	if topic == "" {
		t.Fatal("expected non-empty fallback topic")
	}
	want := "bitcoin OR reach OR $100k OR 2025 OR Bitcoin OR BITCOIN"
	if topic != want {
		t.Errorf("fallbackTopic = %q, want %q", topic, want)
	}
}

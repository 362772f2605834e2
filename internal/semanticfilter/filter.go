// Package semanticfilter ranks a sphere's recent public posts for
// relevance to a forecasting question, grounded on
// original_source/backend/app/noise_traders/semantic_filter.py's two-step
// SemanticFilter.filter().
package semanticfilter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/phenomenon0/forecastmarket/internal/llmclient"
	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// Post is one fetched social post, kept deliberately narrow — only the
// fields the ranking step and callers need.
type Post struct {
	Author    string
	Text      string
	Likes     int
	Retweets  int
}

// SearchRequest is what Fetch needs from the filter to run one query.
type SearchRequest struct {
	Query           string
	LookbackDays    int
	Language        string
	MaxPosts        int
	IncludeRetweets bool
	IncludeReplies  bool
}

// PostSource is the external search service the filter queries for raw
// posts — an interface so tests can substitute a fake without a network
// dependency, and so the real x_search-equivalent integration can be
// swapped in later without touching this package.
type PostSource interface {
	Fetch(ctx context.Context, req SearchRequest) ([]Post, error)
}

// Completer is the subset of llmclient.Client this package needs.
type Completer interface {
	Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResult, error)
}

// Config tunes fetch/return sizes and lookback window, mirroring
// SemanticFilterConfig in the Python source.
type Config struct {
	MaxPostsToFetch  int
	MaxPostsToReturn int
	LookbackDays     int
	IncludeRetweets  bool
	IncludeReplies   bool
	Language         string
}

// DefaultConfig mirrors the Python source's defaults.
func DefaultConfig() Config {
	return Config{
		MaxPostsToFetch:  200,
		MaxPostsToReturn: 15,
		LookbackDays:     7,
		IncludeRetweets:  false,
		IncludeReplies:   true,
		Language:         "en",
	}
}

// Filter ranks a sphere's posts for relevance to a forecasting question.
type Filter struct {
	client Completer
	source PostSource
	config Config
	log    *logging.Logger

	lastQuery string
}

// New builds a Filter wired to an LLM client and a post source.
func New(client Completer, source PostSource, config Config) *Filter {
	return &Filter{client: client, source: source, config: config, log: logging.New("semanticfilter")}
}

// Result is the filter's output: the relevant posts plus counts for
// observability.
type Result struct {
	Posts               []Post
	TotalPostsAnalyzed  int
	RelevantPostCount   int
}

// Run executes the full pipeline for one (question, sphere) pair.
func (f *Filter) Run(ctx context.Context, question, sphereID string, topic string) (Result, error) {
	sphere, ok := GetSphere(sphereID)
	if !ok {
		return Result{}, fmt.Errorf("invalid sphere %q", sphereID)
	}

	query := topic
	if query == "" {
		var err error
		query, err = f.extractSearchQuery(ctx, question, sphere)
		if err != nil {
			query = fallbackTopic(question)
		}
	}
	f.lastQuery = query

	posts, err := f.source.Fetch(ctx, SearchRequest{
		Query:           query,
		LookbackDays:    f.config.LookbackDays,
		Language:        f.config.Language,
		MaxPosts:        f.config.MaxPostsToFetch,
		IncludeRetweets: f.config.IncludeRetweets,
		IncludeReplies:  f.config.IncludeReplies,
	})
	if err != nil {
		f.log.Warnf("post source fetch failed: %v", err)
		return Result{}, nil
	}
	if len(posts) == 0 {
		f.log.Warnf("no posts found for question: %.50s", question)
		return Result{}, nil
	}

	indices, err := f.semanticFilter(ctx, question, posts, sphere)
	if err != nil {
		f.log.Warnf("semantic filter failed, using engagement fallback: %v", err)
		indices = fallbackIndices(posts, f.config.MaxPostsToReturn)
	}

	relevant := reconstructPosts(posts, indices)
	return Result{
		Posts:              relevant,
		TotalPostsAnalyzed: len(posts),
		RelevantPostCount:  len(relevant),
	}, nil
}

// LastQuery returns the search query used by the most recent Run call.
func (f *Filter) LastQuery() string { return f.lastQuery }

func (f *Filter) extractSearchQuery(ctx context.Context, question string, sphere Sphere) (string, error) {
	systemPrompt := fmt.Sprintf(keywordExtractionPrompt, sphere.Name)
	resp, err := f.client.Complete(ctx, llmclient.CompletionRequest{
		System:      systemPrompt,
		Messages:    []llmclient.Message{{Role: "user", Content: question}},
		Schema:      searchQuerySchema,
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return "", err
	}
	return out.Query, nil
}

func (f *Filter) semanticFilter(ctx context.Context, question string, posts []Post, sphere Sphere) ([]int, error) {
	systemPrompt := fmt.Sprintf(semanticFilterPrompt, question, sphere.Name)
	resp, err := f.client.Complete(ctx, llmclient.CompletionRequest{
		System:      systemPrompt,
		Messages:    []llmclient.Message{{Role: "user", Content: formatPostsForModel(posts)}},
		Schema:      indicesSchema,
		Temperature: 0.3,
		MaxTokens:   150,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Indices []int `json:"indices"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, err
	}
	if len(out.Indices) > f.config.MaxPostsToReturn {
		out.Indices = out.Indices[:f.config.MaxPostsToReturn]
	}
	return out.Indices, nil
}

func reconstructPosts(posts []Post, indices []int) []Post {
	var out []Post
	for _, idx := range indices {
		arrayIdx := idx - 1
		if arrayIdx < 0 || arrayIdx >= len(posts) {
			continue
		}
		p := posts[arrayIdx]
		if len(p.Text) > 280 {
			p.Text = p.Text[:280]
		}
		out = append(out, p)
	}
	return out
}

func fallbackIndices(posts []Post, max int) []int {
	type scored struct {
		idx   int
		score int
	}
	scores := make([]scored, len(posts))
	for i, p := range posts {
		scores[i] = scored{idx: i + 1, score: p.Likes + 2*p.Retweets}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if len(scores) > max {
		scores = scores[:max]
	}
	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = s.idx
	}
	return out
}

func formatPostsForModel(posts []Post) string {
	var b strings.Builder
	for i, p := range posts {
		text := p.Text
		if len(text) > 200 {
			text = text[:200]
		}
		fmt.Fprintf(&b, "[%d] @%s (%dL/%dRT): %s\n", i+1, p.Author, p.Likes, p.Retweets, text)
	}
	return b.String()
}

// titleCaser folds a token to title case for the fallback query expansion,
// the Go equivalent of Python's str.title(); used instead of hand-rolling
// rune casing logic.
var titleCaser = cases.Title(language.English)

// fallbackTopic mirrors _extract_topic_fallback: strip common prediction
// phrasing, keep informative tokens, and emit a boolean OR query.
func fallbackTopic(question string) string {
	lower := strings.ToLower(question)
	for _, phrase := range []string{
		"will ", "would ", "does ", "is ", "are ", "can ", "should ",
		"by end of ", "by the end of ", "before ", "after ",
		"resolve yes", "resolve no", "?",
	} {
		lower = strings.ReplaceAll(lower, phrase, " ")
	}
	for y := 2020; y <= time.Now().Year()+5; y++ {
		lower = strings.ReplaceAll(lower, fmt.Sprintf("in %d", y), "")
	}

	var meaningful []string
	for _, w := range strings.Fields(lower) {
		if len(w) > 2 {
			meaningful = append(meaningful, w)
		}
		if len(meaningful) == 15 {
			break
		}
	}

	if len(meaningful) > 0 && len(meaningful) < 10 {
		first := meaningful[0]
		meaningful = append(meaningful, titleCaser.String(first), strings.ToUpper(first))
	}

	if len(meaningful) == 0 {
		return strings.TrimSpace(lower)
	}
	return strings.Join(meaningful, " OR ")
}

const keywordExtractionPrompt = `Convert this prediction market question into a boolean search query for social search.

TARGET SPHERE: %s

Rules:
1. Use OR to join 10-15 keywords
2. Include the main topic, abbreviations, hashtags, and related terms
3. Include sphere-specific terminology
4. Do not use AND or restrictive terms`

const semanticFilterPrompt = `You are filtering posts for relevance to a prediction market question.

QUESTION: %s

TARGET SPHERE: %s

Return the indices (1-indexed) of posts relevant to answering the question, ordered by relevance, most relevant first. Maximum 15 indices.

Prioritize posts directly discussing the topic, high-engagement posts, and authoritative voices within the target sphere. Exclude off-topic content, spam, and vague statements.`

var searchQuerySchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{"query": map[string]any{"type": "string"}},
	"required":   []string{"query"},
}

var indicesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"indices": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
	},
	"required": []string{"indices"},
}

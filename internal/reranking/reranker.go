package reranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/menumap/internal/engine"
	"github.com/kalambet/menumap/internal/llmjson"
	"github.com/kalambet/menumap/internal/retrieval"
)

const defaultConcurrency = 3

// Reranker re-scores retrieved candidates against the menu name.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error)
}

// NewReranker returns an LLMReranker if enabled and an engine is available,
// NoOpReranker otherwise.
//
// topK controls the early-return threshold: once topK candidates have been
// scored, the reranker returns that subset immediately without waiting for
// the rest. Set topK to 0 (or >= len(candidates)) to disable early return.
func NewReranker(eng engine.Engine, model string, enabled bool, timeout time.Duration, threshold float64, topK int) Reranker {
	if !enabled || eng == nil {
		return &NoOpReranker{}
	}
	return &LLMReranker{
		engine:    eng,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
		topK:      topK,
	}
}

// LLMReranker asks a chat model how well each catalog candidate matches the
// menu name. Scoring runs concurrently (bounded to defaultConcurrency
// goroutines). Results are filtered by threshold and sorted by score
// descending.
type LLMReranker struct {
	engine    engine.Engine
	model     string
	timeout   time.Duration
	threshold float64
	topK      int // early-return threshold; 0 = score all
}

// Rerank scores each candidate against the query and returns a filtered,
// sorted result set. If the timeout fires before scoring completes, the
// original order is returned unchanged.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	earlyReturnAt := r.topK
	if earlyReturnAt <= 0 || earlyReturnAt >= len(candidates) {
		earlyReturnAt = 0
	}

	// Buffered so workers never block on send after we stop reading.
	results := make(chan retrieval.Candidate, len(candidates))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(cand retrieval.Candidate) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreCandidate(timeoutCtx, query, cand)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return
				}
				slog.Debug("reranker: score failed, retaining original", "item_id", cand.ItemID, "error", err)
				results <- cand
				return
			}
			cand.Score = float32(score)
			results <- cand
		}(c)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]retrieval.Candidate, 0, len(candidates))
collect:
	for {
		select {
		case c, ok := <-results:
			if !ok {
				break collect
			}
			scored = append(scored, c)
			if earlyReturnAt > 0 && len(scored) >= earlyReturnAt {
				cancel()
				break collect
			}
		case <-timeoutCtx.Done():
			slog.Warn("reranker: timed out, keeping retrieval order", "scored", len(scored), "total", len(candidates))
			return candidates, nil
		}
	}

	if len(scored) == 0 {
		return candidates, nil
	}

	filtered := make([]retrieval.Candidate, 0, len(scored))
	for _, c := range scored {
		if float64(c.Score) >= r.threshold {
			filtered = append(filtered, c)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	return filtered, nil
}

var scoreSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"score": {Type: "number", Description: "Match likelihood 0.0-1.0"},
	},
	Required: []string{"score"},
}

func (r *LLMReranker) scoreCandidate(ctx context.Context, query string, c retrieval.Candidate) (float64, error) {
	prompt := "Rate how likely it is that the restaurant menu item and the catalog item below are the same dish, on a scale of 0.0 to 1.0.\n" +
		"Menu item: " + query + "\n" +
		"Catalog item: " + candidateName(c.Text) + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.engine.Chat(ctx, r.model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, engine.ChatOptions{Temperature: engine.Temperature(0), Schema: scoreSchema})
	if err != nil {
		return float64(c.Score), err
	}

	score, parseErr := parseScore(resp, c.Score)
	if parseErr != nil {
		slog.Debug("reranker: parse failed, using original score", "resp", resp, "error", parseErr)
		return float64(c.Score), nil
	}
	return score, nil
}

// candidateName drops the "<id>," prefix of an indexed document.
func candidateName(text string) string {
	if _, name, ok := strings.Cut(text, ","); ok {
		return name
	}
	return text
}

// parseScore extracts {"score": x} from a chatty reply. On failure the
// original score is returned so the candidate is not penalised.
func parseScore(resp string, originalScore float32) (float64, error) {
	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := llmjson.Object(resp, &obj); err != nil {
		return float64(originalScore), err
	}
	if obj.Score == nil {
		return float64(originalScore), fmt.Errorf("reply has no score field")
	}
	return *obj.Score, nil
}

// NoOpReranker passes candidates through unchanged. Used when reranking is disabled.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, candidates []retrieval.Candidate) ([]retrieval.Candidate, error) {
	return candidates, nil
}

// Package mapper runs the menu-mapping pipeline: normalize, spell-correct,
// classify, retrieve, rerank, select and audit.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/menumap/internal/auditlog"
	"github.com/kalambet/menumap/internal/catalog"
	"github.com/kalambet/menumap/internal/classify"
	"github.com/kalambet/menumap/internal/normalize"
	"github.com/kalambet/menumap/internal/reranking"
	"github.com/kalambet/menumap/internal/retrieval"
	"github.com/kalambet/menumap/internal/storage"
)

// ErrEmptyInput is returned when a menu name normalizes to nothing.
var ErrEmptyInput = errors.New("menu name is empty after normalization")

const defaultTopK = 10

type Corrector interface {
	Correct(ctx context.Context, name string) string
}

type Classifier interface {
	Classify(ctx context.Context, name string) classify.Classification
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Candidate, error)
}

// LogStore persists selection exchanges.
type LogStore interface {
	SaveLLMLog(l storage.LLMLog) error
}

// AuditWriter appends the per-request CSV line.
type AuditWriter interface {
	Append(e auditlog.Entry) error
}

// Result is everything the pipeline learned about one menu name.
type Result struct {
	Input          string                  `json:"input"`
	Corrected      string                  `json:"corrected"`
	Classification classify.Classification `json:"classification"`
	Candidates     []retrieval.Candidate   `json:"candidates"`
	Matches        []QueryResult           `json:"matches"`
	RawResponse    string                  `json:"raw_response"`
	LogID          string                  `json:"log_id,omitempty"`
	ParseError     bool                    `json:"parse_error,omitempty"`
	Hallucinated   bool                    `json:"hallucinated,omitempty"`
	DurationMs     int64                   `json:"duration_ms"`
}

// Best returns the top match or an unmapped record when there is none.
func (r Result) Best() QueryResult {
	if len(r.Matches) == 0 {
		return QueryResult{ID: UnmappedID}
	}
	return r.Matches[0]
}

// Deps wires a Mapper. Classifier, Reranker, Logs and Audit are optional.
type Deps struct {
	Corrector  Corrector
	Classifier Classifier
	Retriever  Retriever
	Reranker   reranking.Reranker
	Selector   *Selector
	Logs       LogStore
	Audit      AuditWriter
	Catalog    *catalog.Catalog
	TopK       int
	Threshold  float64
}

// Mapper maps free-text menu names onto catalog items. It is safe for
// concurrent use; the catalog can be swapped while requests are in flight.
type Mapper struct {
	corrector  Corrector
	classifier Classifier
	retriever  Retriever
	reranker   reranking.Reranker
	selector   *Selector
	logs       LogStore
	audit      AuditWriter
	topK       int
	threshold  float64

	catalog atomic.Pointer[catalog.Catalog]
}

func New(d Deps) *Mapper {
	if d.TopK <= 0 {
		d.TopK = defaultTopK
	}
	if d.Threshold <= 0 {
		d.Threshold = DefaultThreshold
	}
	if d.Reranker == nil {
		d.Reranker = &reranking.NoOpReranker{}
	}
	m := &Mapper{
		corrector:  d.Corrector,
		classifier: d.Classifier,
		retriever:  d.Retriever,
		reranker:   d.Reranker,
		selector:   d.Selector,
		logs:       d.Logs,
		audit:      d.Audit,
		topK:       d.TopK,
		threshold:  d.Threshold,
	}
	if d.Catalog == nil {
		d.Catalog = catalog.New(nil)
	}
	m.catalog.Store(d.Catalog)
	return m
}

// SetCatalog replaces the catalog used to resolve selected ids.
func (m *Mapper) SetCatalog(c *catalog.Catalog) {
	m.catalog.Store(c)
}

// Catalog returns the catalog currently in use.
func (m *Mapper) Catalog() *catalog.Catalog {
	return m.catalog.Load()
}

// Map runs the full pipeline for one menu name. Retrieval failures are
// returned; LLM failures degrade into placeholder results.
func (m *Mapper) Map(ctx context.Context, menuName string) (Result, error) {
	start := time.Now()
	res := Result{Input: normalize.Input(menuName)}
	if res.Input == "" {
		return res, ErrEmptyInput
	}

	res.Corrected = m.corrector.Correct(ctx, res.Input)
	if res.Corrected == "" {
		res.Corrected = res.Input
	}

	if m.classifier != nil {
		res.Classification = m.classifier.Classify(ctx, res.Corrected)
	}

	candidates, err := m.retriever.Retrieve(ctx, res.Corrected, m.topK)
	if err != nil {
		return res, fmt.Errorf("retrieving candidates: %w", err)
	}

	reranked, err := m.reranker.Rerank(ctx, res.Corrected, candidates)
	if err != nil {
		slog.Warn("mapper: rerank failed, keeping retrieval order", "error", err)
		reranked = candidates
	}
	res.Candidates = reranked

	sel, selErr := m.selector.Select(ctx, res.Input, reranked)
	if selErr != nil {
		slog.Warn("mapper: selection failed", "input", res.Input, "error", selErr)
		res.Matches = []QueryResult{{ID: UnmappedID, Name: parseErrorName}}
		res.ParseError = true
	} else {
		res.RawResponse = sel.Raw
		out := ProcessResponse(sel.Raw, m.catalog.Load(), m.threshold)
		res.Matches = out.Matches
		res.ParseError = out.ParseError
		res.Hallucinated = out.Hallucinated
	}
	if res.Matches == nil {
		res.Matches = []QueryResult{}
	}

	if m.logs != nil && selErr == nil {
		logID := uuid.New().String()
		err := m.logs.SaveLLMLog(storage.LLMLog{
			ID:         logID,
			CreatedAt:  time.Now().UTC(),
			Model:      sel.Model,
			Prompt:     sel.Prompt,
			Response:   sel.Raw,
			DurationMs: sel.Duration.Milliseconds(),
		})
		if err != nil {
			slog.Warn("mapper: failed to save llm log", "error", err)
		} else {
			res.LogID = logID
		}
	}

	if m.audit != nil {
		entry := auditlog.Entry{
			UserInput:    res.Input,
			Corrected:    res.Corrected,
			VectorTokens: vectorTokens(res.Candidates),
			Response:     string(MarshalMatches(res.Matches)),
		}
		if err := m.audit.Append(entry); err != nil {
			slog.Warn("mapper: failed to write audit line", "error", err)
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	slog.Debug("mapper: mapped",
		"input", res.Input,
		"corrected", res.Corrected,
		"candidates", len(res.Candidates),
		"matches", len(res.Matches),
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

// vectorTokens renders candidates one per line as "<text>,<score>".
func vectorTokens(candidates []retrieval.Candidate) string {
	var sb strings.Builder
	for _, c := range candidates {
		sb.WriteString(c.Text)
		sb.WriteByte(',')
		sb.WriteString(formatScore(c.Score))
		sb.WriteByte('\n')
	}
	return sb.String()
}

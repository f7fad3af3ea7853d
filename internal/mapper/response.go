package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/kalambet/menumap/internal/catalog"
	"github.com/kalambet/menumap/internal/llmjson"
)

// DefaultThreshold is the minimum relevance score a selection must carry.
const DefaultThreshold = 0.6

// UnmappedID marks a result that does not point at a catalog item.
const UnmappedID = -1

const parseErrorName = "error parsing response"

// QueryResult is one ranked match returned to callers.
type QueryResult struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Usage          int     `json:"usage"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Lookup resolves catalog ids. *catalog.Catalog satisfies it.
type Lookup interface {
	Get(id int) (catalog.MenuItem, bool)
}

// flexID accepts ids the model emits as numbers, numeric strings or
// integral floats such as 123.0.
type flexID int

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexID(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return fmt.Errorf("id %s is not an integer", s)
	}
	*f = flexID(v)
	return nil
}

type selection struct {
	ID             flexID  `json:"id"`
	Name           string  `json:"name"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Response is the outcome of interpreting the selection model's reply.
type Response struct {
	Matches      []QueryResult
	ParseError   bool
	Hallucinated bool
}

// ProcessResponse turns the raw model reply into ranked catalog matches.
//
// Entries scoring below threshold are dropped. If a surviving entry names an
// id absent from the catalog, the reply is distrusted and a single unmapped
// record carrying the model's name and score is returned. Otherwise matches
// are sorted by relevance score, then usage, both descending. A reply that
// is not a JSON array yields a single parse-error record; no error is
// returned.
func ProcessResponse(raw string, items Lookup, threshold float64) Response {
	var picks []selection
	if err := llmjson.Array(raw, &picks); err != nil {
		slog.Warn("mapper: unparseable selection reply", "error", err, "response", raw)
		return Response{
			Matches:    []QueryResult{{ID: UnmappedID, Name: parseErrorName}},
			ParseError: true,
		}
	}

	matches := make([]QueryResult, 0, len(picks))
	for _, p := range picks {
		if p.RelevanceScore < threshold {
			continue
		}
		item, ok := items.Get(int(p.ID))
		if !ok {
			slog.Warn("mapper: model selected unknown catalog id", "id", int(p.ID), "name", p.Name)
			return Response{
				Matches: []QueryResult{{
					ID:             UnmappedID,
					Name:           p.Name,
					RelevanceScore: p.RelevanceScore,
				}},
				Hallucinated: true,
			}
		}
		matches = append(matches, QueryResult{
			ID:             item.ID,
			Name:           item.Name,
			Usage:          item.Usage,
			RelevanceScore: p.RelevanceScore,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].RelevanceScore != matches[j].RelevanceScore {
			return matches[i].RelevanceScore > matches[j].RelevanceScore
		}
		return matches[i].Usage > matches[j].Usage
	})
	return Response{Matches: matches}
}

// MarshalMatches renders matches as a JSON array, never null.
func MarshalMatches(m []QueryResult) json.RawMessage {
	if m == nil {
		m = []QueryResult{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

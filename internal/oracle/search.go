package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-pipeline/internal/logger"
)

// DefaultMaxSources caps how many grounding sources a search returns.
const DefaultMaxSources = 3

// Source is one web page backing a search answer.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// SearchAnswer is the grounded summary for one query.
type SearchAnswer struct {
	Summary string   `json:"summary"`
	Sources []Source `json:"sources"`
}

// GroundedSearcher answers merchant lookups with Google Search grounding.
type GroundedSearcher struct {
	models     generator
	model      string
	timeout    time.Duration
	maxSources int
}

// NewGroundedSearcher creates a searcher over an existing genai client. Each
// search is bounded by timeout; zero uses the oracle default.
func NewGroundedSearcher(client *genai.Client, model string, timeout time.Duration) *GroundedSearcher {
	return newGroundedSearcher(client.Models, model, timeout)
}

func newGroundedSearcher(models generator, model string, timeout time.Duration) *GroundedSearcher {
	if model == "" {
		model = DefaultModelName
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GroundedSearcher{models: models, model: model, timeout: timeout, maxSources: DefaultMaxSources}
}

// Search asks the model what kind of business query names, grounded in web results.
func (s *GroundedSearcher) Search(ctx context.Context, query string) (SearchAnswer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchAnswer{}, fmt.Errorf("Search: empty query")
	}

	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: "You identify businesses that appear on bank statements. " +
			"Search the web and answer in two sentences: what the company is and what it sells. " +
			"If nothing relevant is found, say so."}}},
	}
	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "What kind of business is \"" + query + "\"?"}}},
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.models.GenerateContent(callCtx, s.model, contents, config)
	if err != nil {
		return SearchAnswer{}, classify("oracle.Search", err)
	}

	answer := SearchAnswer{Summary: strings.TrimSpace(resp.Text())}
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			answer.Sources = append(answer.Sources, Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
			if len(answer.Sources) == s.maxSources {
				break
			}
		}
	}

	l := logger.FromContext(ctx)
	l.Debug().Str("query", query).Int("sources", len(answer.Sources)).Msg("merchant search completed")
	return answer, nil
}

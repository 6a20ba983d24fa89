// Package categorize refines the category of already extracted transactions.
// It is best effort: any failure leaves the batch as it was.
package categorize

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/dvloznov/statement-pipeline/internal/oracle"
	"github.com/dvloznov/statement-pipeline/internal/tools"
)

// DefaultMaxSearchCalls bounds merchant lookups per batch.
const DefaultMaxSearchCalls = 5

// Config configures the stage.
type Config struct {
	// MaxSearchCalls is the lookup budget; zero disables searching.
	MaxSearchCalls int
	// Currency is used to display amounts to the model.
	Currency string
}

// Stage is the categorization stage.
type Stage struct {
	oracle     oracle.Oracle
	categories domain.CategorySet
	searcher   tools.Searcher
	cfg        Config
}

// New creates a categorization stage. searcher may be nil.
func New(o oracle.Oracle, categories domain.CategorySet, searcher tools.Searcher, cfg Config) *Stage {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	return &Stage{oracle: o, categories: categories, searcher: searcher, cfg: cfg}
}

type update struct {
	Index    *int   `json:"index"`
	Category string `json:"category"`
}

type answer struct {
	Transactions []update `json:"transactions"`
}

// Categorize returns a copy of batch in which only categories may differ.
// Length and order are preserved. Rows the model does not mention, or
// mentions with an unknown category, are returned unchanged.
func (s *Stage) Categorize(ctx context.Context, batch domain.Batch) domain.Batch {
	log := logger.FromContext(ctx)
	out := batch.Clone()
	if len(batch) == 0 {
		return out
	}

	req := oracle.Request{
		Stage:       "categorize",
		Instruction: buildInstruction(s.categories, s.searchEnabled()),
		Input:       buildSummary(batch, s.cfg.Currency),
		Schema:      updateSchema(s.categories),
	}
	if s.searchEnabled() {
		req.Capabilities = []oracle.Capability{tools.NewSearchMerchant(s.searcher)}
		req.MaxCalls = s.cfg.MaxSearchCalls
	}

	res, err := s.oracle.Generate(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("categorization failed, keeping extracted categories")
		return out
	}
	if !res.Present() {
		log.Info().Msg("no structured categorization response, keeping extracted categories")
		return out
	}

	var ans answer
	if err := res.Decode(&ans); err != nil {
		log.Warn().Err(err).Msg("undecodable categorization response, keeping extracted categories")
		return out
	}

	changed := applyUpdates(out, ans.Transactions, s.categories)
	if len(ans.Transactions) < len(batch) {
		log.Warn().
			Int("rows", len(batch)).
			Int("returned", len(ans.Transactions)).
			Msg("model returned fewer rows than supplied, missing rows keep their values")
	}
	log.Info().Int("transactions", len(out)).Int("changed", changed).Msg("categorization completed")
	return out
}

func (s *Stage) searchEnabled() bool {
	return s.searcher != nil && s.cfg.MaxSearchCalls > 0
}

// applyUpdates writes categories into out in place and returns how many changed.
// A row is addressed by its explicit index, or by position when the index is
// missing; each row is updated at most once.
func applyUpdates(out domain.Batch, updates []update, categories domain.CategorySet) int {
	seen := make(map[int]bool, len(updates))
	changed := 0
	for pos, u := range updates {
		idx := pos
		if u.Index != nil {
			idx = *u.Index
		}
		if idx < 0 || idx >= len(out) || seen[idx] {
			continue
		}
		seen[idx] = true

		category, known := categories.Normalize(u.Category)
		if !known {
			continue
		}
		if out[idx].Category != category {
			out[idx].Category = category
			changed++
		}
	}
	return changed
}

func buildSummary(batch domain.Batch, currency string) string {
	var b strings.Builder
	b.WriteString("Transactions:\n")
	for i, t := range batch {
		fmt.Fprintf(&b, "[%d] %s: %s - %s (%s) [Current category: %s]\n",
			i,
			t.TransactionDate.String(),
			t.Merchant,
			t.Description,
			domain.FormatAmount(t.Amount, currency),
			t.Category,
		)
	}
	return b.String()
}

func buildInstruction(categories domain.CategorySet, search bool) string {
	var b strings.Builder
	b.WriteString("You are a financial transaction categorization specialist.\n")
	b.WriteString("Your task is to review and improve the category assignments for financial transactions.\n\n")
	if search {
		b.WriteString("You have access to a web search tool:\n")
		b.WriteString("- search_company: search for a merchant or company when you are unsure about the correct category.\n\n")
	}
	b.WriteString("Available categories:\n")
	b.WriteString(categories.Describe())
	b.WriteString("\nInstructions:\n")
	b.WriteString("1. Review each transaction's current category assignment.\n")
	b.WriteString("2. If a category seems incorrect or is \"Other\", try to determine the correct category.\n")
	if search {
		b.WriteString("3. If the merchant name is unclear, use the search tool. Only search when necessary.\n")
	}
	b.WriteString("Return one entry per transaction with its [index] and the category. ")
	b.WriteString("Do not change categories that are already correct.\n")
	b.WriteString("When you are done, call " + oracle.SubmitFunctionName + ".\n")
	return b.String()
}

func updateSchema(categories domain.CategorySet) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"transactions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"index":    {Type: genai.TypeInteger, Description: "The [index] of the transaction."},
						"category": {Type: genai.TypeString, Enum: categories.Names()},
					},
					Required: []string{"index", "category"},
				},
			},
		},
		Required: []string{"transactions"},
	}
}

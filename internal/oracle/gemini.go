package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

const (
	// DefaultModelName is the Gemini model used when none is configured.
	DefaultModelName = "gemini-2.5-flash"

	// SubmitFunctionName is the terminal function through which the model
	// hands over its structured answer.
	SubmitFunctionName = "submit_result"

	defaultMaxTurns = 8
	defaultTimeout  = 2 * time.Minute
)

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures a Gemini oracle.
type GeminiConfig struct {
	Model       string
	Timeout     time.Duration
	Temperature *float32
	MaxTurns    int
}

// Gemini implements Oracle with Gemini function calling. Capabilities are
// declared as functions next to a terminal submit function whose parameters
// are the target schema.
type Gemini struct {
	models      generator
	model       string
	timeout     time.Duration
	temperature *float32
	maxTurns    int
}

// NewClient creates the process-wide genai client.
func NewClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewClient: create genai client: %w", err)
	}
	return client, nil
}

// NewGemini creates a Gemini oracle over an existing client.
func NewGemini(client *genai.Client, cfg GeminiConfig) *Gemini {
	return newGemini(client.Models, cfg)
}

func newGemini(models generator, cfg GeminiConfig) *Gemini {
	g := &Gemini{
		models:      models,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTurns:    cfg.MaxTurns,
	}
	if g.model == "" {
		g.model = DefaultModelName
	}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if g.maxTurns <= 0 {
		g.maxTurns = defaultMaxTurns
	}
	return g
}

// Generate runs the function-calling loop until the model submits an answer,
// replies with plain JSON, stops, or runs out of turns. Capability failures
// abort the request.
func (g *Gemini) Generate(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return None, fmt.Errorf("Generate: invalid request: %w", err)
	}
	log := logger.FromContext(ctx).With().Str("stage", req.Stage).Logger()

	byName := make(map[string]Capability, len(req.Capabilities))
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Capabilities)+1)
	for _, c := range req.Capabilities {
		d := c.Declaration()
		byName[d.Name] = c
		decls = append(decls, d)
	}
	decls = append(decls, &genai.FunctionDeclaration{
		Name:        SubmitFunctionName,
		Description: "Submit the final answer. Call this exactly once when you are done.",
		Parameters:  req.Schema,
	})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.Instruction}}},
		Temperature:       g.temperature,
		Tools:             []*genai.Tool{{FunctionDeclarations: decls}},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
		},
	}

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: req.Input}}},
	}

	calls := 0
	for turn := 0; turn < g.maxTurns; turn++ {
		resp, err := g.generate(ctx, contents, config)
		if err != nil {
			return None, err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			log.Warn().Int("turn", turn).Msg("model returned no candidates")
			return None, nil
		}
		content := resp.Candidates[0].Content
		contents = append(contents, content)

		var fcalls []*genai.FunctionCall
		var texts []string
		for _, part := range content.Parts {
			switch {
			case part.FunctionCall != nil:
				fcalls = append(fcalls, part.FunctionCall)
			case part.Text != "" && !part.Thought:
				texts = append(texts, part.Text)
			}
		}

		if len(fcalls) == 0 {
			if raw, ok := parseTextAnswer(strings.Join(texts, "")); ok {
				log.Debug().Int("turn", turn).Msg("model answered in text")
				return Some(raw), nil
			}
			log.Warn().Int("turn", turn).Msg("model stopped without a structured answer")
			return None, nil
		}

		var responses []*genai.Part
		for _, fc := range fcalls {
			if fc.Name == SubmitFunctionName {
				raw, err := json.Marshal(fc.Args)
				if err != nil {
					return None, &domain.MalformedResponseError{Op: "oracle.Generate", Err: err}
				}
				log.Debug().Int("turn", turn).Int("capability_calls", calls).Msg("model submitted result")
				return Some(raw), nil
			}

			fr := &genai.FunctionResponse{ID: fc.ID, Name: fc.Name}
			capability, ok := byName[fc.Name]
			switch {
			case !ok:
				fr.Response = map[string]any{"error": fmt.Sprintf("unknown function %s", fc.Name)}
			case calls >= req.MaxCalls:
				log.Warn().Str("capability", fc.Name).Int("max_calls", req.MaxCalls).Msg("capability call refused, budget exhausted")
				fr.Response = map[string]any{"error": ErrBudgetExhausted.Error()}
			default:
				calls++
				log.Debug().Str("capability", fc.Name).Int("call", calls).Msg("calling capability")
				out, err := capability.Call(ctx, fc.Args)
				if err != nil {
					return None, fmt.Errorf("Generate: capability %s: %w", fc.Name, err)
				}
				fr.Response = out
			}
			responses = append(responses, &genai.Part{FunctionResponse: fr})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responses})
	}

	log.Warn().Int("max_turns", g.maxTurns).Msg("model did not answer within the turn limit")
	return None, nil
}

// ErrBudgetExhausted is reported to the model when it exceeds its call budget.
var ErrBudgetExhausted = errors.New("capability call budget exhausted")

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classify("oracle.GenerateContent", err)
	}
	return resp, nil
}

// classify maps genai failures onto the error taxonomy: API answers become
// service errors, everything else is a transport failure.
func classify(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.ServiceError{Op: op, Status: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &domain.ServiceError{Op: op, Status: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return &domain.TransportError{Op: op, Err: err}
}

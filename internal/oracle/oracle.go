// Package oracle is the boundary to the structured-output model. A stage sends
// an instruction, its input and a target schema, optionally with a closed set
// of capabilities the model may call, and gets back either a schema instance
// or an explicit absence.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Kind identifies one of the capabilities a stage may offer to the oracle.
type Kind string

const (
	KindLoadTabular    Kind = "load_tabular"
	KindLoadViaOCR     Kind = "load_via_ocr"
	KindSearchMerchant Kind = "search_merchant"
)

// Valid reports whether k is one of the known capability kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLoadTabular, KindLoadViaOCR, KindSearchMerchant:
		return true
	}
	return false
}

// Capability is a function the oracle may call before answering.
type Capability interface {
	Kind() Kind
	Declaration() *genai.FunctionDeclaration
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Request is one structured-output call.
type Request struct {
	// Stage names the caller in logs.
	Stage        string
	Instruction  string
	Input        string
	Schema       *genai.Schema
	Capabilities []Capability
	// MaxCalls bounds capability invocations across the whole request.
	MaxCalls int
}

// Validate checks that the capability set is closed and unambiguous.
func (r Request) Validate() error {
	if r.Schema == nil {
		return errors.New("request has no target schema")
	}
	if r.MaxCalls < 0 {
		return fmt.Errorf("negative call budget %d", r.MaxCalls)
	}
	seen := make(map[string]bool, len(r.Capabilities))
	for _, c := range r.Capabilities {
		if !c.Kind().Valid() {
			return fmt.Errorf("unknown capability kind %q", c.Kind())
		}
		name := c.Declaration().Name
		if name == "" || name == SubmitFunctionName {
			return fmt.Errorf("capability %q has a reserved or empty name", c.Kind())
		}
		if seen[name] {
			return fmt.Errorf("duplicate capability %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Result is either a schema instance or nothing.
type Result struct {
	raw json.RawMessage
}

// None is the absent result.
var None = Result{}

// Some wraps a structured answer.
func Some(raw json.RawMessage) Result {
	return Result{raw: raw}
}

// Present reports whether the oracle produced a structured answer.
func (r Result) Present() bool {
	return len(r.raw) > 0
}

// Raw returns the JSON of the answer, nil when absent.
func (r Result) Raw() json.RawMessage {
	return r.raw
}

// Decode unmarshals the answer into v.
func (r Result) Decode(v any) error {
	if !r.Present() {
		return errors.New("no structured result")
	}
	return json.Unmarshal(r.raw, v)
}

// Oracle produces structured answers.
type Oracle interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

package domain

import (
	"fmt"
)

// Status is the progress marker of one pipeline invocation.
type Status string

const (
	StatusPending     Status = "pending"
	StatusLoaded      Status = "loaded"
	StatusExtracted   Status = "extracted"
	StatusCategorized Status = "categorized"
	StatusSaved       Status = "saved"
	StatusFailed      Status = "failed"
)

// forward lists the legal non-failure successors of each status.
// extracted -> saved additionally requires ProcessingState.SkipCategorize.
var forward = map[Status][]Status{
	StatusPending:     {StatusLoaded},
	StatusLoaded:      {StatusExtracted},
	StatusExtracted:   {StatusCategorized, StatusSaved},
	StatusCategorized: {StatusSaved},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSaved || s == StatusFailed
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, candidate := range forward[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ProcessingState is the per-invocation record threaded through the pipeline.
// It is owned by a single driver and never shared between invocations.
type ProcessingState struct {
	RequestID    string
	FilePath     string
	SourceFile   string
	DocumentText string
	Transactions Batch
	Status       Status
	// SkipCategorize permits extracted -> saved. The driver sets it when no
	// categorization stage is configured.
	SkipCategorize bool
}

// NewProcessingState returns a pending state with only the input populated.
func NewProcessingState(requestID, filePath, sourceFile string) *ProcessingState {
	return &ProcessingState{
		RequestID:  requestID,
		FilePath:   filePath,
		SourceFile: sourceFile,
		Status:     StatusPending,
	}
}

// Snapshot returns a copy a stage can read without aliasing the driver's batch.
func (s *ProcessingState) Snapshot() ProcessingState {
	cp := *s
	cp.Transactions = s.Transactions.Clone()
	return cp
}

// Delta is what a stage hands back to the driver. Nil fields are left untouched.
type Delta struct {
	DocumentText *string
	Transactions *Batch
	Status       Status
}

// Apply merges d into s after checking the status transition.
func (s *ProcessingState) Apply(d Delta) error {
	if !s.Status.CanTransition(d.Status) {
		return fmt.Errorf("illegal status transition %s -> %s", s.Status, d.Status)
	}
	if s.Status == StatusExtracted && d.Status == StatusSaved && !s.SkipCategorize {
		return fmt.Errorf("illegal status transition %s -> %s: categorization is enabled", s.Status, d.Status)
	}
	if d.DocumentText != nil {
		s.DocumentText = *d.DocumentText
	}
	if d.Transactions != nil {
		s.Transactions = d.Transactions.Clone()
	}
	s.Status = d.Status
	return nil
}

// Fail moves s to StatusFailed unless it is already terminal.
func (s *ProcessingState) Fail() {
	if !s.Status.Terminal() {
		s.Status = StatusFailed
	}
}

package analysis

import (
	"context"
	"sync"
)

// Result is the post-call assessment of a finished transcript.
type Result struct {
	Sentiment string `json:"sentiment"`
	Summary   string `json:"summary"`
	Flagged   bool   `json:"flagged"`
}

// Analyzer turns a finished call transcript into a Result. Implementations
// must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (Result, error)
}

// MockAnalyzer returns a fixed result and records every transcript it saw.
type MockAnalyzer struct {
	mu    sync.Mutex
	seen  []string
	Fixed Result
	Err   error
}

func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{Fixed: Result{Sentiment: "neutral", Summary: "mock summary"}}
}

func (a *MockAnalyzer) Analyze(_ context.Context, transcript string) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return Result{}, a.Err
	}
	a.seen = append(a.seen, transcript)
	return a.Fixed, nil
}

func (a *MockAnalyzer) Seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.seen))
	copy(out, a.seen)
	return out
}

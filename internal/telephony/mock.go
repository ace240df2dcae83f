package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider records placements instead of calling out, for tests and
// local dev without telephony credentials.
type MockProvider struct {
	mu     sync.Mutex
	placed []string
	seq    int

	// Err, when set, fails every placement.
	Err error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) PlaceCall(_ context.Context, to string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.seq++
	p.placed = append(p.placed, to)
	return fmt.Sprintf("CA-mock-%04d", p.seq), nil
}

// Placed returns every destination passed to PlaceCall so far.
func (p *MockProvider) Placed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.placed))
	copy(out, p.placed)
	return out
}

package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// Transport is the external messaging channel. Send must be safe to call
// repeatedly with the same arguments; the engine resends after failures.
// The destination is passed raw; normalization is the transport's job.
type Transport interface {
	// Send attempts delivery over the given connection. A nil error means
	// the message left the engine successfully; a non-nil error carries
	// the failure reason recorded on the recipient.
	Send(ctx context.Context, connectionID, destination, text string) error

	// Status reports whether the connection is authenticated and ready.
	// Consulted before execute/resume to fail fast.
	Status(ctx context.Context, connectionID string) (bool, error)
}

// MockTransport simulates a messaging channel for development and tests.
// Connections registered as authenticated succeed at the configured rate.
type MockTransport struct {
	mu            sync.Mutex
	authenticated map[string]bool
	successRate   float64
	rng           *rand.Rand
}

func NewMockTransport(successRate float64, seed int64) *MockTransport {
	return &MockTransport{
		authenticated: make(map[string]bool),
		successRate:   successRate,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Authenticate marks a connection as ready.
func (t *MockTransport) Authenticate(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authenticated[connectionID] = true
}

func (t *MockTransport) Send(ctx context.Context, connectionID, destination, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.authenticated[connectionID] {
		return fmt.Errorf("connection %s not authenticated", connectionID)
	}
	if t.rng.Float64() >= t.successRate {
		return fmt.Errorf("mock sending failed")
	}
	return nil
}

func (t *MockTransport) Status(ctx context.Context, connectionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authenticated[connectionID], nil
}

var _ Transport = (*MockTransport)(nil)

package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/unclebandit/chatblast-backend/internal/model"
)

// ConnectionStatusStore is the slice of the connection repository the dev
// transport answers Status from.
type ConnectionStatusStore interface {
	GetByID(id string) (*model.Connection, error)
}

// DevTransport simulates deliveries while answering Status from the
// connection store, which owns authoritative authentication state. It
// stands in for the real browser-automation channel in development.
type DevTransport struct {
	Connections ConnectionStatusStore
	SuccessRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewDevTransport(connections ConnectionStatusStore, successRate float64) *DevTransport {
	return &DevTransport{
		Connections: connections,
		SuccessRate: successRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (t *DevTransport) Send(ctx context.Context, connectionID, destination, text string) error {
	ok, err := t.Status(ctx, connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("connection %s not authenticated", connectionID)
	}

	t.mu.Lock()
	failed := t.rng.Float64() >= t.SuccessRate
	t.mu.Unlock()
	if failed {
		return fmt.Errorf("simulated send failure")
	}
	return nil
}

func (t *DevTransport) Status(ctx context.Context, connectionID string) (bool, error) {
	conn, err := t.Connections.GetByID(connectionID)
	if err != nil {
		return false, err
	}
	return conn.Authenticated, nil
}

var _ Transport = (*DevTransport)(nil)

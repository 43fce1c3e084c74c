package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/metrics"
)

// Supervisor launches one detached background run per triggering action
// and enforces a single active run per campaign id. It tracks nothing
// persistently: a process restart loses in-flight runs, which are
// recoverable only by the user re-triggering resume.
type Supervisor struct {
	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func NewSupervisor(log zerolog.Logger) *Supervisor {
	return &Supervisor{
		active: make(map[string]struct{}),
		log:    log,
	}
}

// Acquire reserves the run slot for a campaign. The caller must either
// pass the release func to Start or call it on an aborted launch.
func (s *Supervisor) Acquire(campaignID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[campaignID]; busy {
		return nil, appErrors.NewRunActive(campaignID)
	}
	s.active[campaignID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.active, campaignID)
			s.mu.Unlock()
		})
	}
	return release, nil
}

// Start runs fn in a new goroutine under panic recovery. The triggering
// request has already returned by the time fn makes progress.
func (s *Supervisor) Start(ctx context.Context, campaignID, action string, release func(), fn func(ctx context.Context)) {
	metrics.RecordRunStarted(action)
	metrics.ActiveRuns.Inc()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer metrics.ActiveRuns.Dec()
		defer release()
		defer func() {
			// Last-resort guard; the loop recovers per recipient already.
			if r := recover(); r != nil {
				s.log.Error().
					Str("campaign_id", campaignID).
					Str("action", action).
					Interface("panic", r).
					Msg("dispatch run panicked")
			}
		}()
		fn(ctx)
	}()
}

// Running reports whether a run is active for the campaign.
func (s *Supervisor) Running(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.active[campaignID]
	return busy
}

// Wait blocks until every launched run has finished. Used in tests and
// on shutdown.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

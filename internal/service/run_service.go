package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/chatblast-backend/internal/engine"
	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/events"
	"github.com/unclebandit/chatblast-backend/internal/model"
	"github.com/unclebandit/chatblast-backend/internal/personalize"
	"github.com/unclebandit/chatblast-backend/internal/repository"
	"github.com/unclebandit/chatblast-backend/internal/transport"
)

const defaultDrainWait = 2 * time.Second

// RunService is the action surface of the execution engine: execute,
// pause, resume, resend-failed, resend-one and delete. Each triggering
// action returns synchronously with the affected recipient count while
// the dispatch loop runs detached.
type RunService struct {
	Campaigns    repository.CampaignRepositoryInterface
	Recipients   repository.RecipientRepositoryInterface
	Connections  repository.ConnectionRepositoryInterface
	Transport    transport.Transport
	Personalizer personalize.Personalizer
	Supervisor   *engine.Supervisor
	Events       events.Publisher
	Clock        engine.Clock
	Log          zerolog.Logger

	// DrainWait bounds how long Delete waits for a running loop to
	// observe the pause before rows are removed.
	DrainWait time.Duration
}

// Execute starts a run over the campaign's pending (and crash-leftover
// processing) recipients. Allowed from draft, scheduled or completed.
func (s *RunService) Execute(ctx context.Context, userID, campaignID, connectionID string) (int, error) {
	c, err := s.owned(userID, campaignID)
	if err != nil {
		return 0, err
	}

	switch c.Status {
	case model.CampaignDraft, model.CampaignScheduled, model.CampaignCompleted:
	default:
		return 0, appErrors.NewInvalidTransition("execute", c.Status)
	}

	if err := s.ensureTransportReady(ctx, userID, connectionID); err != nil {
		return 0, err
	}

	subset, err := s.Recipients.ListByCampaignAndStatus(campaignID,
		model.RecipientPending, model.RecipientProcessing)
	if err != nil {
		return 0, err
	}
	if len(subset) == 0 {
		return 0, appErrors.ErrNoRecipients
	}

	if err := s.startRun(ctx, "execute", c, connectionID, subset); err != nil {
		return 0, err
	}
	return len(subset), nil
}

// Pause stops a running campaign. The loop observes the status change on
// its next poll, so the pause can take up to one in-flight iteration.
func (s *RunService) Pause(userID, campaignID string) error {
	c, err := s.owned(userID, campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignInProgress {
		return appErrors.NewInvalidTransition("pause", c.Status)
	}
	if err := s.Campaigns.UpdateStatus(campaignID, model.CampaignPaused); err != nil {
		return err
	}
	s.publishStatus(campaignID, model.CampaignPaused, "paused by user")
	return nil
}

// Resume continues a paused campaign. When nothing is left to send the
// campaign goes straight to completed without starting a loop.
func (s *RunService) Resume(ctx context.Context, userID, campaignID, connectionID string) (int, error) {
	c, err := s.owned(userID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != model.CampaignPaused {
		return 0, appErrors.NewInvalidTransition("resume", c.Status)
	}

	if err := s.ensureTransportReady(ctx, userID, connectionID); err != nil {
		return 0, err
	}

	subset, err := s.Recipients.ListByCampaignAndStatus(campaignID,
		model.RecipientPending, model.RecipientProcessing)
	if err != nil {
		return 0, err
	}
	if len(subset) == 0 {
		if err := s.Campaigns.UpdateStatus(campaignID, model.CampaignCompleted); err != nil {
			return 0, err
		}
		s.publishStatus(campaignID, model.CampaignCompleted, "")
		return 0, nil
	}

	if err := s.startRun(ctx, "resume", c, connectionID, subset); err != nil {
		return 0, err
	}
	return len(subset), nil
}

// ResendFailed resets every failed recipient to pending and runs them
// again. Their stored message text is reused, never regenerated.
func (s *RunService) ResendFailed(ctx context.Context, userID, campaignID, connectionID string) (int, error) {
	c, err := s.owned(userID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status == model.CampaignInProgress {
		return 0, appErrors.NewInvalidTransition("resend failed for", c.Status)
	}

	failed, err := s.Recipients.ListByCampaignAndStatus(campaignID, model.RecipientFailed)
	if err != nil {
		return 0, err
	}
	if len(failed) == 0 {
		return 0, appErrors.ErrNoRecipients
	}

	if err := s.ensureTransportReady(ctx, userID, connectionID); err != nil {
		return 0, err
	}

	for i := range failed {
		if err := s.Recipients.ResetToPending(failed[i].ID); err != nil {
			return 0, err
		}
		failed[i].Status = model.RecipientPending
	}

	if err := s.startRun(ctx, "resend_failed", c, connectionID, failed); err != nil {
		return 0, err
	}
	return len(failed), nil
}

// ResendOne retries a single failed recipient.
func (s *RunService) ResendOne(ctx context.Context, userID, campaignID, recipientID, connectionID string) (int, error) {
	c, err := s.owned(userID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status == model.CampaignInProgress {
		return 0, appErrors.NewInvalidTransition("resend for", c.Status)
	}

	rec, err := s.Recipients.GetByID(recipientID)
	if err != nil {
		return 0, err
	}
	if rec.CampaignID != campaignID {
		return 0, appErrors.NewRecipientNotFound(recipientID)
	}
	if rec.Status != model.RecipientFailed {
		return 0, appErrors.NewInvalidTransition("resend recipient in", rec.Status)
	}

	if err := s.ensureTransportReady(ctx, userID, connectionID); err != nil {
		return 0, err
	}

	if err := s.Recipients.ResetToPending(rec.ID); err != nil {
		return 0, err
	}
	rec.Status = model.RecipientPending

	if err := s.startRun(ctx, "resend_one", c, connectionID, []model.Recipient{*rec}); err != nil {
		return 0, err
	}
	return 1, nil
}

// Delete removes a campaign and its recipients. A running campaign is
// paused first and given a bounded drain so the loop can observe the
// change, though the loop tolerates a vanished row regardless.
func (s *RunService) Delete(ctx context.Context, userID, campaignID string) error {
	c, err := s.owned(userID, campaignID)
	if err != nil {
		return err
	}

	if c.Status == model.CampaignInProgress {
		if err := s.Campaigns.UpdateStatus(campaignID, model.CampaignPaused); err != nil {
			return err
		}
		s.publishStatus(campaignID, model.CampaignPaused, "campaign deleted")
		s.drain(ctx, campaignID)
	}

	if err := s.Recipients.DeleteByCampaign(campaignID); err != nil {
		return err
	}
	if err := s.Campaigns.Delete(campaignID); err != nil {
		return err
	}
	s.publishStatus(campaignID, "deleted", "")
	return nil
}

// startRun binds the connection, persists in_progress and launches the
// dispatch loop. The run slot is reserved first so a rejected trigger
// never flips campaign status.
func (s *RunService) startRun(ctx context.Context, action string, c *model.Campaign, connectionID string, subset []model.Recipient) error {
	release, err := s.Supervisor.Acquire(c.ID)
	if err != nil {
		return err
	}

	if err := s.Campaigns.BindConnection(c.ID, connectionID); err != nil {
		release()
		return err
	}
	if err := s.Campaigns.UpdateStatus(c.ID, model.CampaignInProgress); err != nil {
		release()
		return err
	}
	s.publishStatus(c.ID, model.CampaignInProgress, action)

	snapshot := *c
	snapshot.Status = model.CampaignInProgress
	snapshot.ConnectionID = &connectionID

	gate, err := engine.NewRateGate(&snapshot, s.Clock.Now(), rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		release()
		_ = s.Campaigns.UpdateStatus(c.ID, model.CampaignFailed)
		s.publishStatus(c.ID, model.CampaignFailed, err.Error())
		return err
	}

	loop := &engine.Loop{
		Campaign:     &snapshot,
		Subset:       subset,
		Campaigns:    s.Campaigns,
		Recipients:   s.Recipients,
		Transport:    s.Transport,
		Personalizer: s.Personalizer,
		Gate:         gate,
		Clock:        s.Clock,
		Events:       s.Events,
		Log:          s.Log,
	}

	// The request context dies when the trigger returns; the run is
	// detached and cancelled only through the status polls.
	s.Supervisor.Start(context.Background(), c.ID, action, release, loop.Run)
	return nil
}

func (s *RunService) owned(userID, campaignID string) (*model.Campaign, error) {
	return ownedCampaign(s.Campaigns, userID, campaignID)
}

// ensureTransportReady fails fast with TransportNotReady unless the
// connection belongs to the user, the store says it is authenticated and
// the transport confirms it. In-memory session state is never trusted
// across restarts, hence the live status check.
func (s *RunService) ensureTransportReady(ctx context.Context, userID, connectionID string) error {
	conn, err := s.Connections.GetByID(connectionID)
	if err != nil {
		return err
	}
	if conn.UserID != userID {
		return appErrors.ErrNotAuthorized
	}
	if !conn.Authenticated {
		return appErrors.ErrTransportNotReady
	}
	ok, err := s.Transport.Status(ctx, connectionID)
	if err != nil || !ok {
		return appErrors.ErrTransportNotReady
	}
	return nil
}

func (s *RunService) drain(ctx context.Context, campaignID string) {
	wait := s.DrainWait
	if wait <= 0 {
		wait = defaultDrainWait
	}
	deadline := s.Clock.Now().Add(wait)
	for s.Supervisor.Running(campaignID) && s.Clock.Now().Before(deadline) {
		if err := s.Clock.Sleep(ctx, 100*time.Millisecond); err != nil {
			return
		}
	}
}

func (s *RunService) publishStatus(campaignID, status, reason string) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(events.Event{
		Type:       events.TypeCampaignStatus,
		CampaignID: campaignID,
		Status:     status,
		Reason:     reason,
		At:         s.Clock.Now(),
	})
	if err != nil {
		s.Log.Debug().Err(err).Msg("event publish failed")
	}
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/events"
	"github.com/unclebandit/chatblast-backend/internal/metrics"
	"github.com/unclebandit/chatblast-backend/internal/model"
	"github.com/unclebandit/chatblast-backend/internal/personalize"
	"github.com/unclebandit/chatblast-backend/internal/transport"
)

// CampaignStore is the slice of the campaign repository the loop needs.
type CampaignStore interface {
	GetByID(id string) (*model.Campaign, error)
	UpdateStatus(campaignID, status string) error
}

// RecipientStore is the slice of the recipient repository the loop needs.
// Every mutation is a single persisted update.
type RecipientStore interface {
	GetByID(id string) (*model.Recipient, error)
	ListByCampaign(campaignID string) ([]model.Recipient, error)
	MarkProcessing(id string) error
	MarkSent(id string, at time.Time) error
	MarkFailed(id, reason string) error
	SetMessage(id, text string) error
}

const (
	defaultWindowPoll   = time.Minute
	defaultMidnightPoll = 5 * time.Minute
)

// Loop drives one campaign run over a fixed, ordered recipient subset.
// The campaign row is re-fetched before every iteration; that poll is the
// only synchronization with external pause and delete actions, so a pause
// can take up to one in-flight send plus delay to be observed.
type Loop struct {
	Campaign *model.Campaign   // snapshot taken at trigger time
	Subset   []model.Recipient // processed in the order supplied

	Campaigns    CampaignStore
	Recipients   RecipientStore
	Transport    transport.Transport
	Personalizer personalize.Personalizer
	Gate         *RateGate
	Clock        Clock
	Events       events.Publisher
	Log          zerolog.Logger

	// Poll intervals for the gate's long waits; zero means the defaults
	// (60s window poll, 5m midnight poll).
	WindowPoll   time.Duration
	MidnightPoll time.Duration
}

// errRunOver signals an early exit that is not a failure: the campaign
// vanished, was paused externally, or the context ended.
var errRunOver = fmt.Errorf("run over")

// Run executes the loop to completion or early exit. It never returns an
// error and never panics: recipient-level problems are recorded on the
// recipient row, run-level problems mark the campaign failed.
func (l *Loop) Run(ctx context.Context) {
	log := l.Log.With().Str("campaign_id", l.Campaign.ID).Logger()

	if l.Campaign.ConnectionID == nil || *l.Campaign.ConnectionID == "" {
		// Run-level error: continuing is meaningless without a transport.
		log.Error().Msg("no transport connection bound, failing run")
		l.setStatus(model.CampaignFailed, "no transport connection bound")
		return
	}
	connID := *l.Campaign.ConnectionID

	log.Info().Int("recipients", len(l.Subset)).Msg("dispatch loop started")

	for i := range l.Subset {
		if l.campaignStopped(log) {
			return
		}
		if err := l.waitForClearance(ctx, log); err != nil {
			log.Info().Msg("dispatch loop stopped while waiting")
			return
		}
		sent := l.processOne(ctx, log, connID, l.Subset[i].ID)
		if sent {
			if err := l.Clock.Sleep(ctx, l.Gate.Delay()); err != nil {
				return
			}
		}
	}

	l.finalize(log)
}

// campaignStopped re-fetches the campaign row. A vanished row or any
// status the engine did not just set ends the run, leaving status exactly
// as found.
func (l *Loop) campaignStopped(log zerolog.Logger) bool {
	cur, err := l.Campaigns.GetByID(l.Campaign.ID)
	if err != nil {
		if appErrors.IsCampaignNotFound(err) {
			log.Info().Msg("campaign deleted, stopping run")
		} else {
			log.Error().Err(err).Msg("campaign re-fetch failed, stopping run")
		}
		return true
	}
	if cur.Status != model.CampaignInProgress {
		log.Info().Str("status", cur.Status).Msg("campaign no longer in progress, stopping run")
		return true
	}
	return false
}

// waitForClearance blocks until the rate gate allows the next send. Daily
// and window waits persist the campaign as paused for their duration and
// restore in_progress afterwards.
func (l *Loop) waitForClearance(ctx context.Context, log zerolog.Logger) error {
	for {
		switch l.Gate.Check(l.Clock.Now()) {
		case Proceed:
			return nil
		case WaitDaily:
			log.Info().Int("sent_today", l.Gate.SentToday()).Msg("daily limit reached, pausing until midnight")
			if err := l.pausedWait(ctx, l.sleepUntilMidnight); err != nil {
				return err
			}
		case WaitWindow:
			log.Info().Msg("outside sending window, pausing until it opens")
			if err := l.pausedWait(ctx, l.sleepUntilWindowOpen); err != nil {
				return err
			}
		}
	}
}

// pausedWait persists paused, waits, then restores in_progress. If the
// campaign row disappeared while waiting the run is over.
func (l *Loop) pausedWait(ctx context.Context, wait func(ctx context.Context) error) error {
	if err := l.Campaigns.UpdateStatus(l.Campaign.ID, model.CampaignPaused); err != nil {
		return err
	}
	l.publishStatus(model.CampaignPaused, "rate gate wait")

	if err := wait(ctx); err != nil {
		return err
	}

	if _, err := l.Campaigns.GetByID(l.Campaign.ID); err != nil {
		return errRunOver
	}
	if err := l.Campaigns.UpdateStatus(l.Campaign.ID, model.CampaignInProgress); err != nil {
		return err
	}
	l.publishStatus(model.CampaignInProgress, "")
	return nil
}

func (l *Loop) sleepUntilMidnight(ctx context.Context) error {
	poll := l.MidnightPoll
	if poll <= 0 {
		poll = defaultMidnightPoll
	}
	target := NextMidnight(l.Clock.Now())
	for {
		now := l.Clock.Now()
		if !now.Before(target) {
			return nil
		}
		d := target.Sub(now)
		if d > poll {
			d = poll
		}
		if err := l.Clock.Sleep(ctx, d); err != nil {
			return err
		}
	}
}

func (l *Loop) sleepUntilWindowOpen(ctx context.Context) error {
	poll := l.WindowPoll
	if poll <= 0 {
		poll = defaultWindowPoll
	}
	for !l.Gate.InWindow(l.Clock.Now()) {
		if err := l.Clock.Sleep(ctx, poll); err != nil {
			return err
		}
	}
	return nil
}

// processOne handles a single recipient. Anything that goes wrong here is
// recorded as that recipient's failure and absorbed; one bad recipient
// must never abort the run.
func (l *Loop) processOne(ctx context.Context, log zerolog.Logger, connID, recipientID string) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("recipient_id", recipientID).Interface("panic", r).Msg("recovered while processing recipient")
			_ = l.Recipients.MarkFailed(recipientID, fmt.Sprintf("panic: %v", r))
			sent = false
		}
	}()

	rec, err := l.Recipients.GetByID(recipientID)
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", recipientID).Msg("recipient fetch failed, skipping")
		return false
	}
	// Idempotent skip: a concurrent reset/skip may have settled this row.
	if rec.Settled() {
		log.Debug().Str("recipient_id", rec.ID).Str("status", rec.Status).Msg("recipient already settled, skipping")
		return false
	}

	if err := l.Recipients.MarkProcessing(rec.ID); err != nil {
		log.Warn().Err(err).Str("recipient_id", rec.ID).Msg("failed to mark recipient processing, skipping")
		return false
	}

	text := l.resolveMessage(ctx, log, rec)

	now := l.Clock.Now()
	if err := l.Transport.Send(ctx, connID, rec.Address, text); err != nil {
		log.Warn().Err(err).Str("recipient_id", rec.ID).Msg("send failed")
		_ = l.Recipients.MarkFailed(rec.ID, err.Error())
		metrics.MessagesFailed.Inc()
		l.publishOutcome(rec.ID, model.RecipientFailed, err.Error())
		return false
	}

	if err := l.Recipients.MarkSent(rec.ID, now); err != nil {
		log.Warn().Err(err).Str("recipient_id", rec.ID).Msg("failed to persist sent status")
	}
	l.Gate.RecordSend(now)
	metrics.MessagesSent.Inc()
	l.publishOutcome(rec.ID, model.RecipientSent, "")
	log.Debug().Str("recipient_id", rec.ID).Msg("message sent")
	return true
}

// resolveMessage returns the text to send. A recipient that already has
// stored text reuses it verbatim; otherwise the template is substituted,
// optionally personalized (falling back silently on any failure), and the
// result persisted so it is generated at most once.
func (l *Loop) resolveMessage(ctx context.Context, log zerolog.Logger, rec *model.Recipient) string {
	if rec.Message != nil && *rec.Message != "" {
		return *rec.Message
	}

	text := RenderForRecipient(l.Campaign.MessageTemplate, rec.Name)

	if l.Campaign.PersonalizationEnabled && l.Campaign.PersonalizationPrompt != nil &&
		strings.TrimSpace(*l.Campaign.PersonalizationPrompt) != "" {
		enhanced, err := l.Personalizer.Personalize(ctx, text, *l.Campaign.PersonalizationPrompt, rec.Name)
		if err != nil {
			log.Debug().Err(err).Str("recipient_id", rec.ID).Msg("personalization failed, using template text")
		} else if strings.TrimSpace(enhanced) != "" {
			text = enhanced
		}
	}

	if err := l.Recipients.SetMessage(rec.ID, text); err != nil {
		log.Warn().Err(err).Str("recipient_id", rec.ID).Msg("failed to persist resolved message")
	}
	return text
}

// finalize marks the campaign completed once nothing is left pending or
// processing. An early exit never reaches here, so an externally paused
// or deleted campaign keeps the status it was given.
func (l *Loop) finalize(log zerolog.Logger) {
	cur, err := l.Campaigns.GetByID(l.Campaign.ID)
	if err != nil {
		return
	}
	if cur.Status != model.CampaignInProgress {
		return
	}

	remaining, err := l.Recipients.ListByCampaign(l.Campaign.ID)
	if err != nil {
		log.Warn().Err(err).Msg("could not list recipients to finalize run")
		return
	}
	for i := range remaining {
		switch remaining[i].Status {
		case model.RecipientPending, model.RecipientProcessing:
			log.Info().Msg("dispatch loop finished with recipients remaining")
			return
		}
	}

	if err := l.Campaigns.UpdateStatus(l.Campaign.ID, model.CampaignCompleted); err != nil {
		log.Warn().Err(err).Msg("failed to mark campaign completed")
		return
	}
	l.publishStatus(model.CampaignCompleted, "")
	log.Info().Msg("campaign completed")
}

func (l *Loop) setStatus(status, reason string) {
	_ = l.Campaigns.UpdateStatus(l.Campaign.ID, status)
	l.publishStatus(status, reason)
}

func (l *Loop) publishStatus(status, reason string) {
	if l.Events == nil {
		return
	}
	err := l.Events.Publish(events.Event{
		Type:       events.TypeCampaignStatus,
		CampaignID: l.Campaign.ID,
		Status:     status,
		Reason:     reason,
		At:         l.Clock.Now(),
	})
	if err != nil {
		l.Log.Debug().Err(err).Msg("event publish failed")
	}
}

func (l *Loop) publishOutcome(recipientID, status, reason string) {
	if l.Events == nil {
		return
	}
	err := l.Events.Publish(events.Event{
		Type:        events.TypeMessageOutcome,
		CampaignID:  l.Campaign.ID,
		RecipientID: recipientID,
		Status:      status,
		Reason:      reason,
		At:          l.Clock.Now(),
	})
	if err != nil {
		l.Log.Debug().Err(err).Msg("event publish failed")
	}
}

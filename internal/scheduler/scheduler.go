package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/repository"
)

// Runs is the slice of the run service the scheduler needs.
type Runs interface {
	Execute(ctx context.Context, userID, campaignID, connectionID string) (int, error)
}

// Scheduler executes due scheduled campaigns. It ticks once a minute; a
// campaign whose scheduled_at has passed and that has a bound connection
// is executed on behalf of its owner.
type Scheduler struct {
	cron      *cron.Cron
	campaigns repository.CampaignRepositoryInterface
	runs      Runs
	log       zerolog.Logger
}

func New(campaigns repository.CampaignRepositoryInterface, runs Runs, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		campaigns: campaigns,
		runs:      runs,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		s.LaunchDue(context.Background(), time.Now())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// LaunchDue executes every scheduled campaign whose start time has
// passed. Failures are logged per campaign and never stop the sweep.
func (s *Scheduler) LaunchDue(ctx context.Context, now time.Time) {
	due, err := s.campaigns.ListDueScheduled(now)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled campaign sweep failed")
		return
	}

	for _, c := range due {
		if c.ConnectionID == nil || *c.ConnectionID == "" {
			s.log.Warn().Str("campaign_id", c.ID).Msg("scheduled campaign has no connection bound, leaving for the user")
			continue
		}
		count, err := s.runs.Execute(ctx, c.UserID, c.ID, *c.ConnectionID)
		if err != nil {
			if appErrors.IsRunActive(err) {
				continue
			}
			s.log.Warn().Err(err).Str("campaign_id", c.ID).Msg("scheduled campaign execute failed")
			continue
		}
		s.log.Info().Str("campaign_id", c.ID).Int("recipients", count).Msg("scheduled campaign started")
	}
}

package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/chatblast-backend/internal/engine"
	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/model"
	"github.com/unclebandit/chatblast-backend/internal/repository"
)

// CampaignService covers the plumbing around the engine: campaign CRUD,
// recipient import and the user-driven skip/reset transitions.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
}

type CreateCampaignInput struct {
	UserID                 string
	Name                   string
	MessageTemplate        string
	PersonalizationPrompt  *string
	PersonalizationEnabled bool
	MinDelaySeconds        int
	MaxDelaySeconds        int
	DailyLimit             int
	WindowStart            *string
	WindowEnd              *string
	ScheduledAt            *string // RFC3339
}

type RecipientInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) CreateCampaign(in CreateCampaignInput) (*model.Campaign, error) {
	if strings.TrimSpace(in.MessageTemplate) == "" {
		return nil, fmt.Errorf("message template cannot be empty")
	}
	if in.MinDelaySeconds < 0 || in.MaxDelaySeconds < 0 {
		return nil, fmt.Errorf("delays cannot be negative")
	}
	if in.DailyLimit < 0 {
		return nil, fmt.Errorf("daily limit cannot be negative")
	}
	if err := validateWindow(in.WindowStart, in.WindowEnd); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		UserID:                 in.UserID,
		Name:                   in.Name,
		MessageTemplate:        in.MessageTemplate,
		PersonalizationPrompt:  in.PersonalizationPrompt,
		PersonalizationEnabled: in.PersonalizationEnabled,
		MinDelaySeconds:        in.MinDelaySeconds,
		MaxDelaySeconds:        in.MaxDelaySeconds,
		DailyLimit:             in.DailyLimit,
		WindowStart:            in.WindowStart,
		WindowEnd:              in.WindowEnd,
		Status:                 model.CampaignDraft,
	}

	if in.ScheduledAt != nil && strings.TrimSpace(*in.ScheduledAt) != "" {
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduled_at: %w", err)
		}
		c.ScheduledAt = &t
		c.Status = model.CampaignScheduled
	}

	if err := s.CampaignRepo.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCampaign edits content and pacing. Status is never writable here;
// only the engine and the explicit lifecycle actions transition it.
func (s *CampaignService) UpdateCampaign(userID string, c *model.Campaign) error {
	existing, err := ownedCampaign(s.CampaignRepo, userID, c.ID)
	if err != nil {
		return err
	}
	if existing.Status == model.CampaignInProgress {
		return appErrors.NewInvalidTransition("update", existing.Status)
	}
	if strings.TrimSpace(c.MessageTemplate) == "" {
		return fmt.Errorf("message template cannot be empty")
	}
	if err := validateWindow(c.WindowStart, c.WindowEnd); err != nil {
		return err
	}
	return s.CampaignRepo.Update(c)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, userID, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" && !model.ValidCampaignStatus(status) {
		return nil, nil, fmt.Errorf("invalid status filter %q", status)
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, userID, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats fetches a campaign and its per-status
// recipient counts.
func (s *CampaignService) GetCampaignDetailsWithStats(userID, campaignID string) (*CampaignDetails, error) {
	c, err := ownedCampaign(s.CampaignRepo, userID, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetCampaignStats(campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// AddRecipients imports recipients in bulk, all created pending. Entries
// without an address are skipped. Returns the number imported.
func (s *CampaignService) AddRecipients(userID, campaignID string, inputs []RecipientInput) (int, error) {
	if _, err := ownedCampaign(s.CampaignRepo, userID, campaignID); err != nil {
		return 0, err
	}

	imported := 0
	for _, in := range inputs {
		if strings.TrimSpace(in.Address) == "" {
			continue
		}
		rec := &model.Recipient{
			CampaignID: campaignID,
			Name:       strings.TrimSpace(in.Name),
			Address:    strings.TrimSpace(in.Address),
			Status:     model.RecipientPending,
		}
		if err := s.RecipientRepo.Create(rec); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func (s *CampaignService) ListRecipients(userID, campaignID, status string) ([]model.Recipient, error) {
	if _, err := ownedCampaign(s.CampaignRepo, userID, campaignID); err != nil {
		return nil, err
	}
	if status == "" {
		return s.RecipientRepo.ListByCampaign(campaignID)
	}
	if !model.ValidRecipientStatus(status) {
		return nil, fmt.Errorf("invalid status filter %q", status)
	}
	return s.RecipientRepo.ListByCampaignAndStatus(campaignID, status)
}

// SkipRecipient moves a pending recipient to skipped so the engine will
// pass over it.
func (s *CampaignService) SkipRecipient(userID, campaignID, recipientID string) error {
	rec, err := s.ownedRecipient(userID, campaignID, recipientID)
	if err != nil {
		return err
	}
	if rec.Status != model.RecipientPending {
		return appErrors.NewInvalidTransition("skip recipient in", rec.Status)
	}
	return s.RecipientRepo.MarkSkipped(recipientID)
}

// ResetRecipient moves a failed or skipped recipient back to pending.
// These are the only user-driven paths back into the engine.
func (s *CampaignService) ResetRecipient(userID, campaignID, recipientID string) error {
	rec, err := s.ownedRecipient(userID, campaignID, recipientID)
	if err != nil {
		return err
	}
	switch rec.Status {
	case model.RecipientFailed, model.RecipientSkipped:
		return s.RecipientRepo.ResetToPending(recipientID)
	}
	return appErrors.NewInvalidTransition("reset recipient in", rec.Status)
}

func (s *CampaignService) DeleteRecipient(userID, campaignID, recipientID string) error {
	rec, err := s.ownedRecipient(userID, campaignID, recipientID)
	if err != nil {
		return err
	}
	if rec.Status == model.RecipientProcessing {
		return appErrors.NewInvalidTransition("delete recipient in", rec.Status)
	}
	return s.RecipientRepo.Delete(recipientID)
}

// RenderPreview shows the template-substituted text for one recipient
// without touching its stored message.
func (s *CampaignService) RenderPreview(userID, campaignID, recipientID string) (string, error) {
	c, err := ownedCampaign(s.CampaignRepo, userID, campaignID)
	if err != nil {
		return "", err
	}
	rec, err := s.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return "", err
	}
	if rec.CampaignID != campaignID {
		return "", appErrors.NewRecipientNotFound(recipientID)
	}
	if rec.Message != nil && *rec.Message != "" {
		return *rec.Message, nil
	}
	return engine.RenderForRecipient(c.MessageTemplate, rec.Name), nil
}

func (s *CampaignService) ownedRecipient(userID, campaignID, recipientID string) (*model.Recipient, error) {
	if _, err := ownedCampaign(s.CampaignRepo, userID, campaignID); err != nil {
		return nil, err
	}
	rec, err := s.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return nil, err
	}
	if rec.CampaignID != campaignID {
		return nil, appErrors.NewRecipientNotFound(recipientID)
	}
	return rec, nil
}

// ownedCampaign loads a campaign and enforces ownership.
func ownedCampaign(repo repository.CampaignRepositoryInterface, userID, campaignID string) (*model.Campaign, error) {
	c, err := repo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, appErrors.ErrNotAuthorized
	}
	return c, nil
}

// validateWindow enforces the both-or-neither invariant and "HH:MM" format.
func validateWindow(start, end *string) error {
	if (start == nil) != (end == nil) {
		return fmt.Errorf("sending window start and end must both be set or both be empty")
	}
	if start == nil {
		return nil
	}
	for _, v := range []string{*start, *end} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("invalid sending window time %q: %w", v, err)
		}
	}
	return nil
}

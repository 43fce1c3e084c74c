package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id string) (*model.Campaign, error)
	Update(c *model.Campaign) error
	UpdateStatus(campaignID, status string) error
	BindConnection(campaignID, connectionID string) error
	ListCampaigns(offset, limit int, userID, status string) ([]*model.Campaign, int, error)
	ListDueScheduled(now time.Time) ([]*model.Campaign, error)
	Delete(campaignID string) error
	GetCampaignStats(campaignID string) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, user_id, name, message_template, personalization_prompt,
       personalization_enabled, min_delay_seconds, max_delay_seconds, daily_limit,
       window_start, window_end, status, connection_id, scheduled_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.MessageTemplate, &c.PersonalizationPrompt,
		&c.PersonalizationEnabled, &c.MinDelaySeconds, &c.MaxDelaySeconds, &c.DailyLimit,
		&c.WindowStart, &c.WindowEnd, &c.Status, &c.ConnectionID, &c.ScheduledAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	query := `
        INSERT INTO campaigns (id, user_id, name, message_template, personalization_prompt,
            personalization_enabled, min_delay_seconds, max_delay_seconds, daily_limit,
            window_start, window_end, status, connection_id, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `
	_, err := r.DB.Exec(query,
		c.ID, c.UserID, c.Name, c.MessageTemplate, c.PersonalizationPrompt,
		c.PersonalizationEnabled, c.MinDelaySeconds, c.MaxDelaySeconds, c.DailyLimit,
		c.WindowStart, c.WindowEnd, c.Status, c.ConnectionID, c.ScheduledAt, c.CreatedAt,
	)
	return err
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, message_template=$2, personalization_prompt=$3, personalization_enabled=$4,
            min_delay_seconds=$5, max_delay_seconds=$6, daily_limit=$7,
            window_start=$8, window_end=$9, scheduled_at=$10, updated_at=NOW()
        WHERE id=$11
    `
	_, err := r.DB.Exec(query,
		c.Name, c.MessageTemplate, c.PersonalizationPrompt, c.PersonalizationEnabled,
		c.MinDelaySeconds, c.MaxDelaySeconds, c.DailyLimit,
		c.WindowStart, c.WindowEnd, c.ScheduledAt, c.ID,
	)
	return err
}

func (r *CampaignRepository) UpdateStatus(campaignID, status string) error {
	if !model.ValidCampaignStatus(status) {
		return fmt.Errorf("invalid campaign status %q", status)
	}
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) BindConnection(campaignID, connectionID string) error {
	query := `UPDATE campaigns SET connection_id=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, connectionID, campaignID)
	return err
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, userID, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if userID != "" {
		query += fmt.Sprintf(" AND user_id=$%d", argPos)
		args = append(args, userID)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []any{}
	countPos := 1
	if userID != "" {
		countQuery += fmt.Sprintf(" AND user_id=$%d", countPos)
		countArgs = append(countArgs, userID)
		countPos++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", countPos)
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListDueScheduled returns scheduled campaigns whose start time has passed.
func (r *CampaignRepository) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
              WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
              ORDER BY scheduled_at`
	rows, err := r.DB.Query(query, model.CampaignScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

func (r *CampaignRepository) Delete(campaignID string) error {
	_, err := r.DB.Exec(`DELETE FROM campaigns WHERE id=$1`, campaignID)
	return err
}

func (r *CampaignRepository) GetCampaignStats(campaignID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM recipients WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		"total":      0,
		"pending":    0,
		"processing": 0,
		"sent":       0,
		"delivered":  0,
		"failed":     0,
		"skipped":    0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		if _, ok := stats[status]; ok {
			stats[status] = count
		}
		stats["total"] += count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

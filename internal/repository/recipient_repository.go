package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/model"
)

// RecipientRepositoryInterface defines the recipient store consumed by the
// engine and the services. Each status mutation is one persisted update;
// the engine never batches recipient writes.
type RecipientRepositoryInterface interface {
	Create(rec *model.Recipient) error
	GetByID(id string) (*model.Recipient, error)
	ListByCampaign(campaignID string) ([]model.Recipient, error)
	ListByCampaignAndStatus(campaignID string, statuses ...string) ([]model.Recipient, error)
	MarkProcessing(id string) error
	MarkSent(id string, at time.Time) error
	MarkDelivered(id string, at time.Time) error
	MarkFailed(id, reason string) error
	MarkSkipped(id string) error
	ResetToPending(id string) error
	SetMessage(id, text string) error
	Delete(id string) error
	DeleteByCampaign(campaignID string) error
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, campaign_id, name, address, message, status,
       sent_at, delivered_at, failure_reason, created_at, updated_at`

func scanRecipient(row interface{ Scan(...any) error }) (*model.Recipient, error) {
	var rec model.Recipient
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.Name, &rec.Address, &rec.Message, &rec.Status,
		&rec.SentAt, &rec.DeliveredAt, &rec.FailureReason, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) Create(rec *model.Recipient) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.RecipientPending
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	query := `
        INSERT INTO recipients (id, campaign_id, name, address, message, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.DB.Exec(query,
		rec.ID, rec.CampaignID, rec.Name, rec.Address, rec.Message, rec.Status,
		rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (r *RecipientRepository) GetByID(id string) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1`
	rec, err := scanRecipient(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewRecipientNotFound(id)
		}
		return nil, err
	}
	return rec, nil
}

func (r *RecipientRepository) ListByCampaign(campaignID string) ([]model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE campaign_id=$1 ORDER BY created_at, id`
	return r.list(query, campaignID)
}

// ListByCampaignAndStatus filters a campaign's recipients by status, e.g.
// all failed recipients for a bulk resend. Order is stable (insertion order).
func (r *RecipientRepository) ListByCampaignAndStatus(campaignID string, statuses ...string) ([]model.Recipient, error) {
	if len(statuses) == 0 {
		return r.ListByCampaign(campaignID)
	}
	placeholders := make([]string, len(statuses))
	args := []any{campaignID}
	for i, s := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, s)
	}
	query := `SELECT ` + recipientColumns + ` FROM recipients
              WHERE campaign_id=$1 AND status IN (` + strings.Join(placeholders, ",") + `)
              ORDER BY created_at, id`
	return r.list(query, args...)
}

func (r *RecipientRepository) list(query string, args ...any) ([]model.Recipient, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *rec)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) MarkProcessing(id string) error {
	query := `UPDATE recipients SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, model.RecipientProcessing, id)
	return err
}

func (r *RecipientRepository) MarkSent(id string, at time.Time) error {
	query := `UPDATE recipients SET status=$1, sent_at=$2, failure_reason=NULL, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, model.RecipientSent, at, id)
	return err
}

func (r *RecipientRepository) MarkDelivered(id string, at time.Time) error {
	query := `UPDATE recipients SET status=$1, delivered_at=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, model.RecipientDelivered, at, id)
	return err
}

func (r *RecipientRepository) MarkFailed(id, reason string) error {
	query := `UPDATE recipients SET status=$1, failure_reason=$2, updated_at=NOW() WHERE id=$3`
	_, err := r.DB.Exec(query, model.RecipientFailed, reason, id)
	return err
}

func (r *RecipientRepository) MarkSkipped(id string) error {
	query := `UPDATE recipients SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, model.RecipientSkipped, id)
	return err
}

// ResetToPending moves a recipient back to pending for a resend or reset.
// The stored message is kept so personalization is never recomputed.
func (r *RecipientRepository) ResetToPending(id string) error {
	query := `UPDATE recipients SET status=$1, failure_reason=NULL, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, model.RecipientPending, id)
	return err
}

func (r *RecipientRepository) SetMessage(id, text string) error {
	query := `UPDATE recipients SET message=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, text, id)
	return err
}

func (r *RecipientRepository) Delete(id string) error {
	_, err := r.DB.Exec(`DELETE FROM recipients WHERE id=$1`, id)
	return err
}

func (r *RecipientRepository) DeleteByCampaign(campaignID string) error {
	_, err := r.DB.Exec(`DELETE FROM recipients WHERE campaign_id=$1`, campaignID)
	return err
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)

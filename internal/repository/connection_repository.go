package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/model"
)

// ConnectionRepositoryInterface defines methods used by the services.
// The store is authoritative for connection status; the transport is
// still re-checked before every run.
type ConnectionRepositoryInterface interface {
	Create(c *model.Connection) error
	GetByID(id string) (*model.Connection, error)
	SetAuthenticated(id string, authenticated bool) error
	ListByUser(userID string) ([]model.Connection, error)
}

// ConnectionRepository is the concrete implementation
type ConnectionRepository struct {
	DB *sql.DB
}

func (r *ConnectionRepository) Create(c *model.Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now()
	query := `
        INSERT INTO connections (id, user_id, label, authenticated, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.DB.Exec(query, c.ID, c.UserID, c.Label, c.Authenticated, c.CreatedAt)
	return err
}

func (r *ConnectionRepository) GetByID(id string) (*model.Connection, error) {
	query := `
        SELECT id, user_id, label, authenticated, created_at
        FROM connections
        WHERE id = $1
    `
	var c model.Connection
	err := r.DB.QueryRow(query, id).Scan(&c.ID, &c.UserID, &c.Label, &c.Authenticated, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewConnectionNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepository) SetAuthenticated(id string, authenticated bool) error {
	query := `UPDATE connections SET authenticated=$1 WHERE id=$2`
	_, err := r.DB.Exec(query, authenticated, id)
	return err
}

func (r *ConnectionRepository) ListByUser(userID string) ([]model.Connection, error) {
	query := `
        SELECT id, user_id, label, authenticated, created_at
        FROM connections
        WHERE user_id = $1
        ORDER BY created_at
    `
	rows, err := r.DB.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connections := []model.Connection{}
	for rows.Next() {
		var c model.Connection
		if err := rows.Scan(&c.ID, &c.UserID, &c.Label, &c.Authenticated, &c.CreatedAt); err != nil {
			return nil, err
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

var _ ConnectionRepositoryInterface = (*ConnectionRepository)(nil)

package appErrors

import (
	"errors"
	"fmt"
)

// Request-level errors, surfaced synchronously to the caller.
// Recipient-level failures are never represented here; they are recorded
// on the recipient row and absorbed by the dispatch loop.
var (
	ErrNotAuthorized     = errors.New("not authorized")
	ErrNoRecipients      = errors.New("no eligible recipients")
	ErrTransportNotReady = errors.New("transport connection not ready")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrRecipientNotFound struct {
	RecipientID string
}

func (e *ErrRecipientNotFound) Error() string {
	return fmt.Sprintf("recipient %s not found", e.RecipientID)
}

func NewRecipientNotFound(id string) error {
	return &ErrRecipientNotFound{RecipientID: id}
}

type ErrConnectionNotFound struct {
	ConnectionID string
}

func (e *ErrConnectionNotFound) Error() string {
	return fmt.Sprintf("connection %s not found", e.ConnectionID)
}

func NewConnectionNotFound(id string) error {
	return &ErrConnectionNotFound{ConnectionID: id}
}

// ErrInvalidTransition rejects a lifecycle action from the wrong status,
// e.g. pausing a campaign that is not in progress.
type ErrInvalidTransition struct {
	Action string
	From   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s campaign in status %q", e.Action, e.From)
}

func NewInvalidTransition(action, from string) error {
	return &ErrInvalidTransition{Action: action, From: from}
}

// ErrRunActive rejects a trigger while a dispatch loop is already
// running for the campaign (one active run per campaign id).
type ErrRunActive struct {
	CampaignID string
}

func (e *ErrRunActive) Error() string {
	return fmt.Sprintf("a run is already active for campaign %s", e.CampaignID)
}

func NewRunActive(id string) error {
	return &ErrRunActive{CampaignID: id}
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var r *ErrRecipientNotFound
	var n *ErrConnectionNotFound
	return errors.As(err, &c) || errors.As(err, &r) || errors.As(err, &n)
}

// IsCampaignNotFound reports whether err means the campaign row is gone.
// The dispatch loop treats this as a clean stop, not a failure.
func IsCampaignNotFound(err error) bool {
	var c *ErrCampaignNotFound
	return errors.As(err, &c)
}

// IsInvalidTransition reports whether err is an invalid lifecycle transition.
func IsInvalidTransition(err error) bool {
	var t *ErrInvalidTransition
	return errors.As(err, &t)
}

// IsRunActive reports whether err is a run-already-active rejection.
func IsRunActive(err error) bool {
	var a *ErrRunActive
	return errors.As(err, &a)
}

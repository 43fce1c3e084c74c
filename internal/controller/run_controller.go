package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/service"
)

// RunController exposes the engine's action surface: execute, pause,
// resume, resend-failed, resend-one and delete. Each action acknowledges
// synchronously with the affected recipient count; the dispatch loop runs
// detached.
type RunController struct {
	Runs *service.RunService
}

type connectionBody struct {
	ConnectionID string `json:"connection_id"`
}

func (c *RunController) ExecuteCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConnectionID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	count, err := c.Runs.Execute(r.Context(), userID, campaignID, body.ConnectionID)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeAck(w, campaignID, "in_progress", count)
}

func (c *RunController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	if err := c.Runs.Pause(userID, campaignID); err != nil {
		writeActionError(w, err)
		return
	}
	writeAck(w, campaignID, "paused", 0)
}

func (c *RunController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConnectionID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	count, err := c.Runs.Resume(r.Context(), userID, campaignID, body.ConnectionID)
	if err != nil {
		writeActionError(w, err)
		return
	}
	status := "in_progress"
	if count == 0 {
		status = "completed"
	}
	writeAck(w, campaignID, status, count)
}

func (c *RunController) ResendFailed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConnectionID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	count, err := c.Runs.ResendFailed(r.Context(), userID, campaignID, body.ConnectionID)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeAck(w, campaignID, "in_progress", count)
}

func (c *RunController) ResendRecipient(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")
	recipientID := chi.URLParam(r, "recipientID")

	var body connectionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConnectionID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	count, err := c.Runs.ResendOne(r.Context(), userID, campaignID, recipientID, body.ConnectionID)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeAck(w, campaignID, "in_progress", count)
}

func (c *RunController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	campaignID := chi.URLParam(r, "id")

	if err := c.Runs.Delete(r.Context(), userID, campaignID); err != nil {
		writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAck(w http.ResponseWriter, campaignID, status string, count int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"campaign_id":         campaignID,
		"status":              status,
		"recipients_affected": count,
	})
}

// requireUser pulls the caller identity set by the (out of scope) auth
// layer.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeActionError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, appErrors.ErrNotAuthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, appErrors.ErrNoRecipients):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appErrors.ErrTransportNotReady):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case appErrors.IsInvalidTransition(err), appErrors.IsRunActive(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

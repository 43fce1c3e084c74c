package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/chatblast-backend/internal/errors"
	"github.com/unclebandit/chatblast-backend/internal/service"
)

// CampaignHandler holds the dependencies for the read/CRUD side of the
// HTTP surface. Lifecycle actions live in the controller package.
type CampaignHandler struct {
	Service *service.CampaignService
}

// CreateCampaignHandler handles creating a new campaign
func (h *CampaignHandler) CreateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}

	var payload struct {
		Name                   string  `json:"name"`
		MessageTemplate        string  `json:"message_template"`
		PersonalizationPrompt  *string `json:"personalization_prompt"`
		PersonalizationEnabled bool    `json:"personalization_enabled"`
		MinDelaySeconds        int     `json:"min_delay_seconds"`
		MaxDelaySeconds        int     `json:"max_delay_seconds"`
		DailyLimit             int     `json:"daily_limit"`
		WindowStart            *string `json:"window_start"`
		WindowEnd              *string `json:"window_end"`
		ScheduledAt            *string `json:"scheduled_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	campaign, err := h.Service.CreateCampaign(service.CreateCampaignInput{
		UserID:                 userID,
		Name:                   payload.Name,
		MessageTemplate:        payload.MessageTemplate,
		PersonalizationPrompt:  payload.PersonalizationPrompt,
		PersonalizationEnabled: payload.PersonalizationEnabled,
		MinDelaySeconds:        payload.MinDelaySeconds,
		MaxDelaySeconds:        payload.MaxDelaySeconds,
		DailyLimit:             payload.DailyLimit,
		WindowStart:            payload.WindowStart,
		WindowEnd:              payload.WindowEnd,
		ScheduledAt:            payload.ScheduledAt,
	})
	if err != nil {
		http.Error(w, "failed to create campaign: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}

	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(page, pageSize, userID, status)
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignHandler returns a campaign with its per-status stats.
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(userID, chi.URLParam(r, "id"))
	if err != nil {
		writeReadError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

// AddRecipientsHandler imports recipients in bulk (JSON array; file
// parsing happens upstream).
func (h *CampaignHandler) AddRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}

	var payload struct {
		Recipients []service.RecipientInput `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	imported, err := h.Service.AddRecipients(userID, chi.URLParam(r, "id"), payload.Recipients)
	if err != nil {
		writeReadError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"imported": imported})
}

// ListRecipientsHandler lists a campaign's recipients, optionally by status.
func (h *CampaignHandler) ListRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}

	recipients, err := h.Service.ListRecipients(userID, chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		writeReadError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": recipients})
}

// SkipRecipientHandler marks a pending recipient skipped.
func (h *CampaignHandler) SkipRecipientHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	err := h.Service.SkipRecipient(userID, chi.URLParam(r, "id"), chi.URLParam(r, "recipientID"))
	if err != nil {
		writeReadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetRecipientHandler moves a failed or skipped recipient back to pending.
func (h *CampaignHandler) ResetRecipientHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	err := h.Service.ResetRecipient(userID, chi.URLParam(r, "id"), chi.URLParam(r, "recipientID"))
	if err != nil {
		writeReadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRecipientHandler removes a single recipient.
func (h *CampaignHandler) DeleteRecipientHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	err := h.Service.DeleteRecipient(userID, chi.URLParam(r, "id"), chi.URLParam(r, "recipientID"))
	if err != nil {
		writeReadError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewHandler renders the message text for one recipient.
func (h *CampaignHandler) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}

	rendered, err := h.Service.RenderPreview(userID, chi.URLParam(r, "id"), chi.URLParam(r, "recipientID"))
	if err != nil {
		writeReadError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"rendered_message": rendered})
}

func userFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func writeReadError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, appErrors.ErrNotAuthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case appErrors.IsInvalidTransition(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

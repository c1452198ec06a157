package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/auth"
	"github.com/wishwell/wishwell/internal/correlate"
	"github.com/wishwell/wishwell/internal/db"
	"github.com/wishwell/wishwell/internal/dispatch"
	"github.com/wishwell/wishwell/internal/settings"
)

// Store defines the read operations the handlers need.
type Store interface {
	GetContact(ctx context.Context, p auth.Principal, id uuid.UUID) (*db.Contact, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*db.MessageTemplate, error)
}

// Resolver authenticates a request credential into a principal.
type Resolver interface {
	Resolve(credential string, attributedUser *uuid.UUID) (auth.Principal, error)
}

// SettingsLoader yields the current typed settings.
type SettingsLoader interface {
	Load(ctx context.Context) (*settings.Settings, error)
}

// Sender performs one greeting dispatch.
type Sender interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*db.DeliveryRecord, error)
}

// Scheduler runs the daily birthday sweep.
type Scheduler interface {
	Run(ctx context.Context, on time.Time) (*dispatch.RunSummary, error)
}

// StatusCorrelator applies provider delivery-status callbacks.
type StatusCorrelator interface {
	Process(ctx context.Context, cb correlate.Callback) (correlate.Result, error)
}

// Response is the envelope every endpoint answers with. Business
// failures keep HTTP 200 and report success=false; only authentication
// failures change the status code.
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// SendRequest is the body of POST /v1/send.
type SendRequest struct {
	ContactID  string `json:"contactId"`
	TemplateID string `json:"templateId"`
	UserID     string `json:"userId,omitempty"`
}

// SchedulerRequest is the body of POST /v1/scheduler/run. The date
// override exists for backfills and tests; empty means today.
type SchedulerRequest struct {
	Date string `json:"date,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	resolver   Resolver
	store      Store
	settings   SettingsLoader
	sender     Sender
	scheduler  Scheduler
	correlator StatusCorrelator
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, resolver Resolver, store Store, loader SettingsLoader, sender Sender, scheduler Scheduler, correlator StatusCorrelator) *Handler {
	return &Handler{
		logger:     logger,
		resolver:   resolver,
		store:      store,
		settings:   loader,
		sender:     sender,
		scheduler:  scheduler,
		correlator: correlator,
	}
}

// SendGreeting handles POST /v1/send
func (h *Handler) SendGreeting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, "Invalid request body", err.Error())
		return
	}

	var attributedUser *uuid.UUID
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			h.writeFailure(w, "Invalid userId", "userId must be a valid UUID")
			return
		}
		attributedUser = &id
	}

	principal, err := h.resolver.Resolve(bearerToken(r), attributedUser)
	if err != nil {
		h.writeUnauthorized(w)
		return
	}

	contactID, err := uuid.Parse(req.ContactID)
	if err != nil {
		h.writeFailure(w, "Invalid contactId", "contactId must be a valid UUID")
		return
	}
	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		h.writeFailure(w, "Invalid templateId", "templateId must be a valid UUID")
		return
	}

	cfg, err := h.settings.Load(ctx)
	if err != nil {
		h.logger.Error("settings load failed", zap.Error(err))
		h.writeFailure(w, "Settings unavailable", "")
		return
	}

	contact, err := h.store.GetContact(ctx, principal, contactID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeFailure(w, "Contact not found", "")
		return
	}
	if err != nil {
		h.logger.Error("contact lookup failed", zap.Error(err), zap.String("contact_id", req.ContactID))
		h.writeFailure(w, "Contact lookup failed", "")
		return
	}

	template, err := h.store.GetTemplate(ctx, templateID)
	if errors.Is(err, db.ErrNotFound) {
		h.writeFailure(w, "Template not found", "")
		return
	}
	if err != nil {
		h.logger.Error("template lookup failed", zap.Error(err), zap.String("template_id", req.TemplateID))
		h.writeFailure(w, "Template lookup failed", "")
		return
	}

	var notifyUser *uuid.UUID
	if id, ok := principal.AttributedUser(); ok {
		notifyUser = &id
	}

	rec, err := h.sender.Dispatch(ctx, dispatch.Request{
		Contact:    contact,
		Template:   template,
		Settings:   cfg,
		NotifyUser: notifyUser,
	})
	if err != nil {
		h.writeJSON(w, http.StatusOK, Response{
			Success: false,
			Message: "Greeting was not sent",
			Error:   err.Error(),
			Details: map[string]any{
				"deliveryRecordId": rec.ID.String(),
				"channel":          rec.Channel,
			},
		})
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Greeting sent",
		Details: map[string]any{
			"deliveryRecordId": rec.ID.String(),
			"channel":          rec.Channel,
		},
	})
}

// RunScheduler handles POST /v1/scheduler/run. Service principals only.
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, err := h.resolver.Resolve(bearerToken(r), nil)
	if err != nil {
		h.writeUnauthorized(w)
		return
	}
	if principal.Scoped() {
		h.writeJSON(w, http.StatusForbidden, Response{
			Success: false,
			Error:   "Forbidden",
			Message: "Scheduler runs require the service credential",
		})
		return
	}

	on := time.Now().UTC()
	if r.Body != nil {
		var req SchedulerRequest
		// An empty body is fine; a present but malformed date is not.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeFailure(w, "Invalid request body", err.Error())
			return
		}
		if req.Date != "" {
			parsed, err := time.Parse(time.DateOnly, req.Date)
			if err != nil {
				h.writeFailure(w, "Invalid date", "date must be formatted YYYY-MM-DD")
				return
			}
			on = parsed
		}
	}

	summary, err := h.scheduler.Run(ctx, on)
	if err != nil {
		h.logger.Error("scheduler run failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "Scheduler run failed",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, schedulerResponse{
		Success:    true,
		RunSummary: *summary,
	})
}

type schedulerResponse struct {
	Success bool `json:"success"`
	dispatch.RunSummary
}

// DeliveryStatus handles POST /v1/webhooks/delivery-status. Providers
// retry on non-2xx, so the endpoint acknowledges every payload; the
// correlator decides what, if anything, to apply.
func (h *Handler) DeliveryStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cb correlate.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		h.logger.Warn("undecodable delivery callback", zap.Error(err))
		h.writeJSON(w, http.StatusOK, Response{Success: true, Message: "ignored"})
		return
	}

	result, err := h.correlator.Process(ctx, cb)
	if err != nil {
		h.logger.Error("delivery callback processing failed",
			zap.Error(err),
			zap.String("message_id", cb.MessageID),
		)
		h.writeJSON(w, http.StatusOK, Response{Success: true, Message: "deferred"})
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Message: string(result)})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusUnauthorized, Response{
		Success: false,
		Error:   "Unauthorized",
	})
}

// writeFailure reports a business failure: HTTP 200, success=false.
func (h *Handler) writeFailure(w http.ResponseWriter, message, detail string) {
	resp := Response{
		Success: false,
		Message: message,
	}
	if detail != "" {
		resp.Error = detail
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// bearerToken extracts the credential from the Authorization header.
// The "Bearer " prefix is optional.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return header
}

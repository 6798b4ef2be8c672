/**
 * @description
 * HTTP handlers for the settlement service: the processor webhook endpoint,
 * the payout trigger, and the account status query.
 *
 * Webhook response contract: 200 {received:true} once routing completes,
 * even when a downstream handler logged a non-fatal error; 400 on signature
 * or payload rejection; 500 only when the event could not be durably
 * recorded before routing, so the sender redelivers.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campfire-labs/settlement-service/internal/app"
	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/store"
)

// WebhookProcessor verifies and routes raw webhook deliveries.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error
}

// PayoutTrigger runs payout batches on demand.
type PayoutTrigger interface {
	Run(ctx context.Context, opts app.PayoutRunOptions) (*app.PayoutRunResult, error)
}

// AccountStatusQuerier reconciles and reports one organisation's status.
type AccountStatusQuerier interface {
	SyncOrganisation(ctx context.Context, organisationID string) (*app.AccountStatusResult, error)
}

// PayoutQuerier loads a payout with its commission snapshot.
type PayoutQuerier interface {
	GetByID(ctx context.Context, payoutID string) (*domain.Payout, error)
}

// WebhookEventQuerier reads the durable webhook event log.
type WebhookEventQuerier interface {
	ListFailed(ctx context.Context, limit int) ([]domain.WebhookEventRecord, error)
}

// RateLimiter counts webhook deliveries per remote address; the handler
// compares the running count against its configured limit.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, window time.Duration) (int, int, error)
}

// Handler holds the application services the handlers interact with.
type Handler struct {
	webhooks    WebhookProcessor
	payouts     PayoutTrigger
	payoutStore PayoutQuerier
	accounts    AccountStatusQuerier
	events      WebhookEventQuerier
	limiter     RateLimiter
	rateLimit   int
	rateWindow  time.Duration
}

// NewHandler creates a new Handler with the given services.
func NewHandler(webhooks WebhookProcessor, payouts PayoutTrigger, payoutStore PayoutQuerier, accounts AccountStatusQuerier, events WebhookEventQuerier, limiter RateLimiter, rateLimit int, rateWindow time.Duration) *Handler {
	return &Handler{
		webhooks:    webhooks,
		payouts:     payouts,
		payoutStore: payoutStore,
		accounts:    accounts,
		events:      events,
		limiter:     limiter,
		rateLimit:   rateLimit,
		rateWindow:  rateWindow,
	}
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && h.rateLimit > 0 {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "webhook", r.RemoteAddr, h.rateWindow)
		if err != nil {
			log.Printf("WARN: webhook rate limiter unavailable: %v", err)
		} else if count > h.rateLimit {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if err := h.webhooks.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, app.ErrSignatureInvalid) || errors.Is(err, app.ErrPayloadInvalid) {
			log.Printf("Webhook rejected: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Webhook processing error before routing: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type payoutTriggerRequest struct {
	OrganisationID string `json:"organisationId,omitempty"`
	Manual         bool   `json:"manual,omitempty"`
}

func (h *Handler) handleRunPayouts(w http.ResponseWriter, r *http.Request) {
	var req payoutTriggerRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
	}

	triggeredBy, _ := UserFromContext(r.Context())
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	result, err := h.payouts.Run(r.Context(), app.PayoutRunOptions{
		OrganisationID: req.OrganisationID,
		Manual:         req.Manual,
		TriggeredBy:    triggeredBy,
	})
	if err != nil {
		log.Printf("Error running payout batch: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	payoutID := chi.URLParam(r, "payoutID")
	if payoutID == "" {
		http.Error(w, "Payout ID is required", http.StatusBadRequest)
		return
	}

	payout, err := h.payoutStore.GetByID(r.Context(), payoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			http.Error(w, "Payout not found", http.StatusNotFound)
			return
		}
		log.Printf("Error loading payout %s: %v", payoutID, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleFailedWebhookEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}

	events, err := h.events.ListFailed(r.Context(), limit)
	if err != nil {
		log.Printf("Error listing failed webhook events: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []domain.WebhookEventRecord{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

type accountStatusRequest struct {
	OrganisationID string `json:"organisationId"`
}

func (h *Handler) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req accountStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.OrganisationID == "" {
		http.Error(w, "organisationId is required", http.StatusBadRequest)
		return
	}

	status, err := h.accounts.SyncOrganisation(r.Context(), req.OrganisationID)
	if err != nil {
		if errors.Is(err, store.ErrOrganisationNotFound) {
			http.Error(w, "Organisation not found", http.StatusNotFound)
			return
		}
		log.Printf("Error syncing account status for organisation %s: %v", req.OrganisationID, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

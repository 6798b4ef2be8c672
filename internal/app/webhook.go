/**
 * @description
 * Webhook dispatch: verifies an inbound processor notification, records it in
 * the durable event log, and routes it to exactly one handler by event type.
 *
 * Acknowledgment contract: the endpoint acks (200) once routing completes,
 * even when a handler failed. The delivery protocol is at-least-once, so
 * handlers are idempotent and failures after the ack are preserved in the
 * event log and published to a dead-letter routing key instead of relying on
 * console output.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/metrics"
)

// EventLog is the durable record of received webhook events.
type EventLog interface {
	Record(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
}

// EventPublisher publishes internal events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// SettlementHandler reconciles payment and booking state from checkout events.
type SettlementHandler interface {
	HandleCheckoutCompleted(ctx context.Context, session domain.CheckoutSessionPayload) error
	HandleCheckoutFailed(ctx context.Context, sessionID string) error
	HandlePaymentFailed(ctx context.Context, intent domain.PaymentIntentPayload) error
	HandleChargeRefunded(ctx context.Context, charge domain.ChargePayload) error
}

// AccountSyncHandler merges processor account state into the local record.
type AccountSyncHandler interface {
	HandleAccountUpdated(ctx context.Context, accountID string) error
}

// PayoutStatusUpdater applies processor payout notifications.
type PayoutStatusUpdater interface {
	UpdateStatusByExternalID(ctx context.Context, externalPayoutID, status string) (bool, error)
}

// EventsExchange is the topic exchange all internal events are published to.
const EventsExchange = "settlement.events"

// WebhookService verifies and routes processor notifications.
type WebhookService struct {
	verifier   *Verifier
	eventLog   EventLog
	settlement SettlementHandler
	accounts   AccountSyncHandler
	payouts    PayoutStatusUpdater
	publisher  EventPublisher
}

// NewWebhookService creates the webhook dispatch service.
func NewWebhookService(verifier *Verifier, eventLog EventLog, settlement SettlementHandler, accounts AccountSyncHandler, payouts PayoutStatusUpdater, publisher EventPublisher) *WebhookService {
	return &WebhookService{
		verifier:   verifier,
		eventLog:   eventLog,
		settlement: settlement,
		accounts:   accounts,
		payouts:    payouts,
		publisher:  publisher,
	}
}

// HandleWebhook processes one raw delivery. Error classes:
//   - ErrSignatureInvalid / ErrPayloadInvalid: reject at the boundary (400).
//   - any other error: the event could not be durably recorded (500, the
//     sender redelivers).
//   - nil: routed and acknowledged, whether or not the handler succeeded.
func (s *WebhookService) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	event, err := s.verifier.VerifyAndParse(body, signatureHeader)
	if err != nil {
		metrics.WebhookRejected.Inc()
		return err
	}

	fresh, err := s.eventLog.Record(ctx, event.ID, event.Type, event.Raw)
	if err != nil {
		return fmt.Errorf("failed to record webhook event %s: %w", event.ID, err)
	}
	if !fresh {
		log.Printf("Duplicate webhook event ignored: %s (%s)", event.ID, event.Type)
		metrics.WebhookDuplicates.Inc()
		return nil
	}

	metrics.WebhookReceived.WithLabelValues(event.Type).Inc()

	handler, known := s.route(event.Type)
	if !known {
		// Acknowledge so the processor does not retry a kind we will never
		// handle.
		log.Printf("Unhandled webhook event type: %s (%s)", event.Type, event.ID)
		if err := s.eventLog.MarkProcessed(ctx, event.ID); err != nil {
			log.Printf("WARN: failed to mark event %s processed: %v", event.ID, err)
		}
		return nil
	}

	if err := handler(ctx, *event); err != nil {
		log.Printf("Webhook handler failed for %s (%s): %v", event.ID, event.Type, err)
		metrics.WebhookHandlerFailures.WithLabelValues(event.Type).Inc()
		if markErr := s.eventLog.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			log.Printf("WARN: failed to record handler failure for event %s: %v", event.ID, markErr)
		}
		s.publishDeadLetter(ctx, *event, err)
		return nil
	}

	if err := s.eventLog.MarkProcessed(ctx, event.ID); err != nil {
		log.Printf("WARN: failed to mark event %s processed: %v", event.ID, err)
	}
	return nil
}

type eventHandler func(ctx context.Context, event domain.WebhookEvent) error

func (s *WebhookService) route(eventType string) (eventHandler, bool) {
	switch eventType {
	case domain.EventCheckoutCompleted:
		return s.handleCheckoutCompleted, true
	case domain.EventCheckoutExpired:
		return s.handleCheckoutExpired, true
	case domain.EventPaymentFailed:
		return s.handlePaymentFailed, true
	case domain.EventChargeRefunded:
		return s.handleChargeRefunded, true
	case domain.EventAccountUpdated:
		return s.handleAccountUpdated, true
	case domain.EventPayoutPaid, domain.EventPayoutFailed:
		return s.handlePayoutStatus, true
	default:
		return nil, false
	}
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, event domain.WebhookEvent) error {
	var session domain.CheckoutSessionPayload
	if err := unmarshalObject(event, &session); err != nil {
		return err
	}
	return s.settlement.HandleCheckoutCompleted(ctx, session)
}

func (s *WebhookService) handleCheckoutExpired(ctx context.Context, event domain.WebhookEvent) error {
	var session domain.CheckoutSessionPayload
	if err := unmarshalObject(event, &session); err != nil {
		return err
	}
	return s.settlement.HandleCheckoutFailed(ctx, session.ID)
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, event domain.WebhookEvent) error {
	var intent domain.PaymentIntentPayload
	if err := unmarshalObject(event, &intent); err != nil {
		return err
	}
	return s.settlement.HandlePaymentFailed(ctx, intent)
}

func (s *WebhookService) handleChargeRefunded(ctx context.Context, event domain.WebhookEvent) error {
	var charge domain.ChargePayload
	if err := unmarshalObject(event, &charge); err != nil {
		return err
	}
	return s.settlement.HandleChargeRefunded(ctx, charge)
}

func (s *WebhookService) handleAccountUpdated(ctx context.Context, event domain.WebhookEvent) error {
	var account domain.ConnectAccount
	if err := unmarshalObject(event, &account); err != nil {
		return err
	}
	if account.ID == "" {
		return fmt.Errorf("account.updated event %s has no account id", event.ID)
	}
	// The payload is only a trigger; the reconciler re-derives from a live
	// fetch so stale deliveries cannot regress the local record.
	return s.accounts.HandleAccountUpdated(ctx, account.ID)
}

func (s *WebhookService) handlePayoutStatus(ctx context.Context, event domain.WebhookEvent) error {
	var payout domain.PayoutPayload
	if err := unmarshalObject(event, &payout); err != nil {
		return err
	}

	status := domain.PayoutPaid
	if event.Type == domain.EventPayoutFailed {
		status = domain.PayoutFailed
	}

	updated, err := s.payouts.UpdateStatusByExternalID(ctx, payout.ID, status)
	if err != nil {
		return fmt.Errorf("failed to update payout %s: %w", payout.ID, err)
	}
	if !updated {
		log.Printf("No local payout for external id %s; ignoring %s", payout.ID, event.Type)
	}
	return nil
}

func (s *WebhookService) publishDeadLetter(ctx context.Context, event domain.WebhookEvent, handlerErr error) {
	if s.publisher == nil {
		return
	}
	payload := domain.DeadLetterEvent{
		EventID:   event.ID,
		EventType: event.Type,
		Error:     handlerErr.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, EventsExchange, "settlement.dead_letter", payload); err != nil {
		log.Printf("WARN: failed to publish dead letter for event %s: %v", event.ID, err)
	}
}

func unmarshalObject(event domain.WebhookEvent, target interface{}) error {
	if len(event.Data.Object) == 0 {
		return fmt.Errorf("event %s has no data object", event.ID)
	}
	if err := json.Unmarshal(event.Data.Object, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	return nil
}

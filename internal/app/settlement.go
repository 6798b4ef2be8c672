/**
 * @description
 * Settlement reconciliation for completed checkouts: marks the payment
 * record succeeded, confirms every booking in the session, and derives one
 * commission record per booking. All mutations are idempotent sets and the
 * commission insert is guarded by a unique constraint, so a redelivered
 * event changes nothing.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/metrics"
	"github.com/campfire-labs/settlement-service/internal/store"
)

// PaymentStore defines the payment-record operations settlement needs.
type PaymentStore interface {
	GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentRecord, error)
	MarkSucceeded(ctx context.Context, sessionID, paymentIntentID, paymentMethod string, paidAt time.Time) error
	MarkFailed(ctx context.Context, sessionID string) (bool, error)
	MarkRefundedByIntent(ctx context.Context, paymentIntentID string) (string, error)
}

// BookingStore defines the booking operations settlement needs.
type BookingStore interface {
	ListBySessionID(ctx context.Context, sessionID string) ([]domain.Booking, error)
	MarkPaid(ctx context.Context, bookingID string, confirmedAt time.Time) error
	MarkRefundedBySession(ctx context.Context, sessionID string) (int64, error)
	GetCampCommissionInfo(ctx context.Context, campID string) (*domain.CampCommissionInfo, error)
}

// CommissionStore defines the commission operations settlement needs.
type CommissionStore interface {
	Insert(ctx context.Context, c domain.CommissionRecord) (string, error)
}

// SettlementService reconciles payment, booking and commission state.
type SettlementService struct {
	payments    PaymentStore
	bookings    BookingStore
	commissions CommissionStore
	publisher   EventPublisher
	now         func() time.Time
}

// NewSettlementService creates a settlement reconciler.
func NewSettlementService(payments PaymentStore, bookings BookingStore, commissions CommissionStore, publisher EventPublisher) *SettlementService {
	return &SettlementService{
		payments:    payments,
		bookings:    bookings,
		commissions: commissions,
		publisher:   publisher,
		now:         time.Now,
	}
}

// HandleCheckoutCompleted settles a successful checkout session. A missing
// payment record is either a persistence race or a foreign event; it is
// logged and acknowledged, never escalated. A commission failure on one
// booking does not abort its siblings.
func (s *SettlementService) HandleCheckoutCompleted(ctx context.Context, session domain.CheckoutSessionPayload) error {
	record, err := s.payments.GetBySessionID(ctx, session.ID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("No payment record for checkout session %s; ignoring", session.ID)
			return nil
		}
		return fmt.Errorf("failed to load payment record for session %s: %w", session.ID, err)
	}

	// Refunded is terminal. A completed-checkout event arriving after the
	// refund (out-of-order delivery) must not resurrect the session.
	if record.Status == domain.PaymentStatusRefunded {
		log.Printf("Checkout session %s is refunded; ignoring late completion event", session.ID)
		return nil
	}

	paidAt := s.now().UTC()
	if err := s.payments.MarkSucceeded(ctx, session.ID, session.PaymentIntent, session.PaymentMethodType, paidAt); err != nil {
		return fmt.Errorf("failed to mark payment succeeded for session %s: %w", session.ID, err)
	}

	bookings, err := s.bookings.ListBySessionID(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load bookings for session %s: %w", session.ID, err)
	}
	if len(bookings) == 0 {
		log.Printf("Checkout session %s has no bookings; nothing to settle", session.ID)
		return nil
	}

	// Each booking is an independent unit of work; errors are collected so
	// one failure cannot starve sibling bookings of their settlement.
	var failures []error
	for _, booking := range bookings {
		if err := s.settleBooking(ctx, booking, paidAt); err != nil {
			log.Printf("Failed to settle booking %s in session %s: %v", booking.ID, session.ID, err)
			failures = append(failures, fmt.Errorf("booking %s: %w", booking.ID, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("settled %d/%d bookings for session %s: %w",
			len(bookings)-len(failures), len(bookings), session.ID, errors.Join(failures...))
	}
	return nil
}

func (s *SettlementService) settleBooking(ctx context.Context, booking domain.Booking, paidAt time.Time) error {
	if err := s.bookings.MarkPaid(ctx, booking.ID, paidAt); err != nil {
		return fmt.Errorf("failed to confirm booking: %w", err)
	}

	info, err := s.bookings.GetCampCommissionInfo(ctx, booking.CampID)
	if err != nil {
		return fmt.Errorf("failed to load camp %s: %w", booking.CampID, err)
	}

	// The default applies only when no rate is configured; an explicit zero
	// means the platform takes no cut from this camp.
	rate := domain.DefaultCommissionRate
	if info.CommissionRate != nil {
		rate = *info.CommissionRate
	}

	record := domain.CommissionRecord{
		ID:               uuid.NewString(),
		BookingID:        booking.ID,
		OrganisationID:   info.OrganisationID,
		CommissionRate:   rate,
		CommissionAmount: CommissionAmount(booking.AmountDue, rate),
		PaymentStatus:    domain.CommissionPending,
	}
	if _, err := s.commissions.Insert(ctx, record); err != nil {
		if errors.Is(err, store.ErrCommissionExists) {
			// Redelivery; the commission was derived by an earlier run.
			return nil
		}
		return fmt.Errorf("failed to record commission: %w", err)
	}

	metrics.CommissionsRecorded.Inc()
	s.publishSettled(ctx, booking, record)
	return nil
}

// HandleCheckoutFailed marks the payment record failed for an expired or
// failed checkout. Missing records are ignored.
func (s *SettlementService) HandleCheckoutFailed(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("checkout event has no session id")
	}
	updated, err := s.payments.MarkFailed(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed for session %s: %w", sessionID, err)
	}
	if !updated {
		log.Printf("No updatable payment record for failed session %s", sessionID)
	}
	return nil
}

// HandlePaymentFailed resolves the checkout session from the intent metadata
// and marks the payment failed.
func (s *SettlementService) HandlePaymentFailed(ctx context.Context, intent domain.PaymentIntentPayload) error {
	sessionID := intent.Metadata["checkout_session"]
	if sessionID == "" {
		log.Printf("Payment intent %s failed but carries no checkout session; ignoring", intent.ID)
		return nil
	}
	return s.HandleCheckoutFailed(ctx, sessionID)
}

// HandleChargeRefunded marks the payment refunded and cascades to the
// session's bookings: payment_status refunded, status cancelled.
func (s *SettlementService) HandleChargeRefunded(ctx context.Context, charge domain.ChargePayload) error {
	if charge.PaymentIntent == "" {
		return fmt.Errorf("charge %s has no payment intent", charge.ID)
	}

	sessionID, err := s.payments.MarkRefundedByIntent(ctx, charge.PaymentIntent)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("No payment record for refunded intent %s; ignoring", charge.PaymentIntent)
			return nil
		}
		return fmt.Errorf("failed to mark payment refunded for intent %s: %w", charge.PaymentIntent, err)
	}

	cancelled, err := s.bookings.MarkRefundedBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to cascade refund to bookings for session %s: %w", sessionID, err)
	}
	log.Printf("Refund cascaded to %d booking(s) in session %s", cancelled, sessionID)
	return nil
}

// CommissionAmount computes the platform's cut in minor units, rounded to
// the nearest cent.
func CommissionAmount(amountDue int64, rate float64) int64 {
	return int64(math.Round(float64(amountDue) * rate))
}

func (s *SettlementService) publishSettled(ctx context.Context, booking domain.Booking, record domain.CommissionRecord) {
	if s.publisher == nil {
		return
	}
	payload := domain.BookingSettledEvent{
		BookingID:      booking.ID,
		OrganisationID: record.OrganisationID,
		AmountPaid:     booking.AmountDue,
		Timestamp:      s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, EventsExchange, "booking.settled", payload); err != nil {
		log.Printf("WARN: failed to publish booking.settled for %s: %v", booking.ID, err)
	}

	notification := domain.NotificationEvent{
		Template: "booking_confirmed",
		Data: map[string]interface{}{
			"booking_id":  booking.ID,
			"amount_paid": booking.AmountDue,
		},
		Timestamp: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, EventsExchange, "notification.email", notification); err != nil {
		log.Printf("WARN: failed to publish booking confirmation email for %s: %v", booking.ID, err)
	}
}

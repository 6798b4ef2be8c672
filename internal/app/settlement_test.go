package app

import (
	"context"
	"testing"
	"time"

	"github.com/campfire-labs/settlement-service/internal/domain"
	"github.com/campfire-labs/settlement-service/internal/store"
)

type paymentStoreStub struct {
	record          *domain.PaymentRecord
	succeededCalls  int
	failedSessions  []string
	markFailedHit   bool
	refundedIntents []string
	refundSession   string
	refundErr       error
}

func (s *paymentStoreStub) GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentRecord, error) {
	if s.record == nil || s.record.CheckoutSession != sessionID {
		return nil, store.ErrPaymentNotFound
	}
	return s.record, nil
}

func (s *paymentStoreStub) MarkSucceeded(ctx context.Context, sessionID, paymentIntentID, paymentMethod string, paidAt time.Time) error {
	s.succeededCalls++
	return nil
}

func (s *paymentStoreStub) MarkFailed(ctx context.Context, sessionID string) (bool, error) {
	s.failedSessions = append(s.failedSessions, sessionID)
	return s.markFailedHit, nil
}

func (s *paymentStoreStub) MarkRefundedByIntent(ctx context.Context, paymentIntentID string) (string, error) {
	if s.refundErr != nil {
		return "", s.refundErr
	}
	s.refundedIntents = append(s.refundedIntents, paymentIntentID)
	return s.refundSession, nil
}

type bookingStoreStub struct {
	bookings       []domain.Booking
	campInfo       map[string]*domain.CampCommissionInfo
	paidBookings   []string
	refundedCount  int64
	refundSessions []string
}

func (s *bookingStoreStub) ListBySessionID(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.CheckoutSession == sessionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *bookingStoreStub) MarkPaid(ctx context.Context, bookingID string, confirmedAt time.Time) error {
	s.paidBookings = append(s.paidBookings, bookingID)
	return nil
}

func (s *bookingStoreStub) MarkRefundedBySession(ctx context.Context, sessionID string) (int64, error) {
	s.refundSessions = append(s.refundSessions, sessionID)
	return s.refundedCount, nil
}

func (s *bookingStoreStub) GetCampCommissionInfo(ctx context.Context, campID string) (*domain.CampCommissionInfo, error) {
	info, ok := s.campInfo[campID]
	if !ok {
		return nil, store.ErrCampNotFound
	}
	return info, nil
}

type commissionStoreStub struct {
	inserted []domain.CommissionRecord
	existing map[string]bool
	errFor   map[string]error
}

func (s *commissionStoreStub) Insert(ctx context.Context, c domain.CommissionRecord) (string, error) {
	if err, ok := s.errFor[c.BookingID]; ok {
		return "", err
	}
	if s.existing[c.BookingID] {
		return "", store.ErrCommissionExists
	}
	s.inserted = append(s.inserted, c)
	return c.ID, nil
}

type publisherStub struct {
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (s *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, publishedEvent{exchange, routingKey, body})
	return nil
}

func rateOf(v float64) *float64 { return &v }

func TestHandleCheckoutCompleted_DerivesCommissionPerBooking(t *testing.T) {
	payments := &paymentStoreStub{record: &domain.PaymentRecord{CheckoutSession: "cs_1"}}
	bookings := &bookingStoreStub{
		bookings: []domain.Booking{
			{ID: "bk_1", CheckoutSession: "cs_1", CampID: "camp_1", AmountDue: 10000},
		},
		campInfo: map[string]*domain.CampCommissionInfo{
			"camp_1": {CampID: "camp_1", OrganisationID: "org_1"},
		},
	}
	commissions := &commissionStoreStub{}
	publisher := &publisherStub{}

	svc := NewSettlementService(payments, bookings, commissions, publisher)
	err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_1", PaymentIntent: "pi_1"})
	if err != nil {
		t.Fatalf("HandleCheckoutCompleted returned error: %v", err)
	}

	if payments.succeededCalls != 1 {
		t.Fatalf("expected 1 MarkSucceeded call, got %d", payments.succeededCalls)
	}
	if len(bookings.paidBookings) != 1 || bookings.paidBookings[0] != "bk_1" {
		t.Fatalf("expected booking bk_1 confirmed, got %v", bookings.paidBookings)
	}
	if len(commissions.inserted) != 1 {
		t.Fatalf("expected 1 commission, got %d", len(commissions.inserted))
	}
	c := commissions.inserted[0]
	if c.CommissionAmount != 1500 {
		t.Fatalf("expected commission of 1500 on 10000 at default rate, got %d", c.CommissionAmount)
	}
	if c.CommissionRate != domain.DefaultCommissionRate {
		t.Fatalf("expected default rate %v, got %v", domain.DefaultCommissionRate, c.CommissionRate)
	}
	if c.OrganisationID != "org_1" {
		t.Fatalf("expected commission attributed to org_1, got %s", c.OrganisationID)
	}
	if c.PaymentStatus != domain.CommissionPending {
		t.Fatalf("expected pending commission, got %s", c.PaymentStatus)
	}
}

func TestHandleCheckoutCompleted_UsesCampOverrideRate(t *testing.T) {
	payments := &paymentStoreStub{record: &domain.PaymentRecord{CheckoutSession: "cs_1"}}
	bookings := &bookingStoreStub{
		bookings: []domain.Booking{
			{ID: "bk_1", CheckoutSession: "cs_1", CampID: "camp_1", AmountDue: 10000},
		},
		campInfo: map[string]*domain.CampCommissionInfo{
			"camp_1": {CampID: "camp_1", OrganisationID: "org_1", CommissionRate: rateOf(0.2)},
		},
	}
	commissions := &commissionStoreStub{}

	svc := NewSettlementService(payments, bookings, commissions, nil)
	if err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_1"}); err != nil {
		t.Fatalf("HandleCheckoutCompleted returned error: %v", err)
	}

	if len(commissions.inserted) != 1 {
		t.Fatalf("expected 1 commission, got %d", len(commissions.inserted))
	}
	if got := commissions.inserted[0].CommissionAmount; got != 2000 {
		t.Fatalf("expected commission of 2000 at override rate 0.2, got %d", got)
	}
}

func TestHandleCheckoutCompleted_ZeroOverrideRateIsHonored(t *testing.T) {
	payments := &paymentStoreStub{record: &domain.PaymentRecord{CheckoutSession: "cs_1"}}
	bookings := &bookingStoreStub{
		bookings: []domain.Booking{
			{ID: "bk_1", CheckoutSession: "cs_1", CampID: "camp_1", AmountDue: 10000},
		},
		campInfo: map[string]*domain.CampCommissionInfo{
			// Explicitly configured zero rate, not an unset one.
			"camp_1": {CampID: "camp_1", OrganisationID: "org_1", CommissionRate: rateOf(0)},
		},
	}
	commissions := &commissionStoreStub{}

	svc := NewSettlementService(payments, bookings, commissions, nil)
	if err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_1"}); err != nil {
		t.Fatalf("HandleCheckoutCompleted returned error: %v", err)
	}

	if len(commissions.inserted) != 1 {
		t.Fatalf("expected 1 commission, got %d", len(commissions.inserted))
	}
	c := commissions.inserted[0]
	if c.CommissionRate != 0 || c.CommissionAmount != 0 {
		t.Fatalf("explicit zero rate must not fall back to the default, got rate %v amount %d", c.CommissionRate, c.CommissionAmount)
	}
}

func TestHandleCheckoutCompleted_RedeliveryIsIdempotent(t *testing.T) {
	payments := &paymentStoreStub{record: &domain.PaymentRecord{CheckoutSession: "cs_1"}}
	bookings := &bookingStoreStub{
		bookings: []domain.Booking{
			{ID: "bk_1", CheckoutSession: "cs_1", CampID: "camp_1", AmountDue: 10000},
		},
		campInfo: map[string]*domain.CampCommissionInfo{
			"camp_1": {CampID: "camp_1", OrganisationID: "org_1"},
		},
	}
	// The unique constraint already fired for this booking.
	commissions := &commissionStoreStub{existing: map[string]bool{"bk_1": true}}

	svc := NewSettlementService(payments, bookings, commissions, nil)
	if err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_1"}); err != nil {
		t.Fatalf("redelivered event should settle cleanly, got error: %v", err)
	}
	if len(commissions.inserted) != 0 {
		t.Fatalf("expected no duplicate commission, got %d", len(commissions.inserted))
	}
	if len(bookings.paidBookings) != 1 {
		t.Fatalf("expected booking reconfirmed idempotently, got %v", bookings.paidBookings)
	}
}

func TestHandleCheckoutCompleted_SiblingFailureIsIsolated(t *testing.T) {
	payments := &paymentStoreStub{record: &domain.PaymentRecord{CheckoutSession: "cs_1"}}
	bookings := &bookingStoreStub{
		bookings: []domain.Booking{
			{ID: "bk_1", CheckoutSession: "cs_1", CampID: "camp_bad", AmountDue: 5000},
			{ID: "bk_2", CheckoutSession: "cs_1", CampID: "camp_1", AmountDue: 5000},
		},
		campInfo: map[string]*domain.CampCommissionInfo{
			// camp_bad is missing so bk_1 fails.
			"camp_1": {CampID: "camp_1", OrganisationID: "org_1"},
		},
	}
	commissions := &commissionStoreStub{}

	svc := NewSettlementService(payments, bookings, commissions, nil)
	err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_1"})
	if err == nil {
		t.Fatal("expected aggregate error for the failing booking")
	}

	if len(commissions.inserted) != 1 || commissions.inserted[0].BookingID != "bk_2" {
		t.Fatalf("expected sibling bk_2 settled despite bk_1 failure, got %+v", commissions.inserted)
	}
}

func TestHandleCheckoutCompleted_MissingPaymentRecordIsIgnored(t *testing.T) {
	payments := &paymentStoreStub{}
	bookings := &bookingStoreStub{}
	commissions := &commissionStoreStub{}

	svc := NewSettlementService(payments, bookings, commissions, nil)
	if err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_unknown"}); err != nil {
		t.Fatalf("missing payment record should be acknowledged, got error: %v", err)
	}
	if payments.succeededCalls != 0 {
		t.Fatal("expected no payment mutation for an unknown session")
	}
}

func TestHandleCheckoutCompleted_RefundedSessionIsNotResettled(t *testing.T) {
	// A completed-checkout event arriving after the refund, with a distinct
	// event id, must not flip the payment back or revive the bookings.
	payments := &paymentStoreStub{record: &domain.PaymentRecord{
		CheckoutSession: "cs_1",
		Status:          domain.PaymentStatusRefunded,
	}}
	bookings := &bookingStoreStub{
		bookings: []domain.Booking{
			{ID: "bk_1", CheckoutSession: "cs_1", CampID: "camp_1", AmountDue: 10000, Status: domain.BookingStatusCancelled},
		},
		campInfo: map[string]*domain.CampCommissionInfo{
			"camp_1": {CampID: "camp_1", OrganisationID: "org_1"},
		},
	}
	commissions := &commissionStoreStub{}

	svc := NewSettlementService(payments, bookings, commissions, nil)
	if err := svc.HandleCheckoutCompleted(context.Background(), domain.CheckoutSessionPayload{ID: "cs_1"}); err != nil {
		t.Fatalf("late completion on a refunded session should be acked, got: %v", err)
	}

	if payments.succeededCalls != 0 {
		t.Fatalf("refunded payment must not be marked succeeded (%d MarkSucceeded calls)", payments.succeededCalls)
	}
	if len(bookings.paidBookings) != 0 {
		t.Fatalf("cancelled bookings must stay cancelled, got confirmations for %v", bookings.paidBookings)
	}
	if len(commissions.inserted) != 0 {
		t.Fatalf("no commission may be derived on a refunded session, got %d", len(commissions.inserted))
	}
}

func TestHandlePaymentFailed_ResolvesSessionFromMetadata(t *testing.T) {
	payments := &paymentStoreStub{markFailedHit: true}
	svc := NewSettlementService(payments, &bookingStoreStub{}, &commissionStoreStub{}, nil)

	intent := domain.PaymentIntentPayload{
		ID:       "pi_1",
		Metadata: map[string]string{"checkout_session": "cs_9"},
	}
	if err := svc.HandlePaymentFailed(context.Background(), intent); err != nil {
		t.Fatalf("HandlePaymentFailed returned error: %v", err)
	}
	if len(payments.failedSessions) != 1 || payments.failedSessions[0] != "cs_9" {
		t.Fatalf("expected session cs_9 marked failed, got %v", payments.failedSessions)
	}
}

func TestHandlePaymentFailed_NoSessionMetadataIsIgnored(t *testing.T) {
	payments := &paymentStoreStub{}
	svc := NewSettlementService(payments, &bookingStoreStub{}, &commissionStoreStub{}, nil)

	if err := svc.HandlePaymentFailed(context.Background(), domain.PaymentIntentPayload{ID: "pi_1"}); err != nil {
		t.Fatalf("intent without session metadata should be ignored, got error: %v", err)
	}
	if len(payments.failedSessions) != 0 {
		t.Fatalf("expected no failure mark, got %v", payments.failedSessions)
	}
}

func TestHandleChargeRefunded_CascadesToBookings(t *testing.T) {
	payments := &paymentStoreStub{refundSession: "cs_1"}
	bookings := &bookingStoreStub{refundedCount: 2}
	svc := NewSettlementService(payments, bookings, &commissionStoreStub{}, nil)

	charge := domain.ChargePayload{ID: "ch_1", PaymentIntent: "pi_1"}
	if err := svc.HandleChargeRefunded(context.Background(), charge); err != nil {
		t.Fatalf("HandleChargeRefunded returned error: %v", err)
	}
	if len(payments.refundedIntents) != 1 || payments.refundedIntents[0] != "pi_1" {
		t.Fatalf("expected intent pi_1 refunded, got %v", payments.refundedIntents)
	}
	if len(bookings.refundSessions) != 1 || bookings.refundSessions[0] != "cs_1" {
		t.Fatalf("expected refund cascaded to session cs_1, got %v", bookings.refundSessions)
	}
}

func TestHandleChargeRefunded_UnknownIntentIsIgnored(t *testing.T) {
	payments := &paymentStoreStub{refundErr: store.ErrPaymentNotFound}
	bookings := &bookingStoreStub{}
	svc := NewSettlementService(payments, bookings, &commissionStoreStub{}, nil)

	charge := domain.ChargePayload{ID: "ch_1", PaymentIntent: "pi_unknown"}
	if err := svc.HandleChargeRefunded(context.Background(), charge); err != nil {
		t.Fatalf("unknown intent should be acknowledged, got error: %v", err)
	}
	if len(bookings.refundSessions) != 0 {
		t.Fatal("expected no booking cascade for an unknown intent")
	}
}

func TestCommissionAmount_RoundsToNearestCent(t *testing.T) {
	cases := []struct {
		amount int64
		rate   float64
		want   int64
	}{
		{10000, 0.15, 1500},
		{3333, 0.15, 500},  // 499.95 rounds up
		{101, 0.15, 15},    // 15.15 rounds down
		{1, 0.15, 0},       // 0.15 rounds down
		{10000, 0.2, 2000},
	}
	for _, tc := range cases {
		if got := CommissionAmount(tc.amount, tc.rate); got != tc.want {
			t.Fatalf("CommissionAmount(%d, %v) = %d, want %d", tc.amount, tc.rate, got, tc.want)
		}
	}
}

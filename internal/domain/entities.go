/**
 * @description
 * Core entities for the settlement pipeline: payment records, bookings,
 * commissions, organisations and payouts. Monetary amounts are stored in
 * minor units (cents) as int64; commission rates are fractions.
 */
package domain

import "time"

// Payment record statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Booking payment statuses.
const (
	BookingPaymentUnpaid   = "unpaid"
	BookingPaymentPaid     = "paid"
	BookingPaymentRefunded = "refunded"
)

// Booking statuses.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// Commission payment statuses.
const (
	CommissionPending = "pending"
	CommissionPaid    = "paid"
)

// Payout statuses.
const (
	PayoutProcessing = "processing"
	PayoutPaid       = "paid"
	PayoutFailed     = "failed"
)

// Onboarding modes.
const (
	OnboardingModeStandard = "standard"
	OnboardingModeDeferred = "deferred"
)

// Onboarding steps, derived from the processor's verification state.
const (
	OnboardingStepAccountCreated       = "account_created"
	OnboardingStepBusinessInfoPending  = "business_info_pending"
	OnboardingStepBankAccountPending   = "bank_account_pending"
	OnboardingStepIdentityPending      = "identity_pending"
	OnboardingStepVerificationComplete = "verification_complete"
)

// DefaultCommissionRate applies when a camp has no explicit rate configured.
const DefaultCommissionRate = 0.15

// PaymentRecord tracks one checkout attempt against the payment processor.
type PaymentRecord struct {
	ID              string            `json:"id"`
	CheckoutSession string            `json:"checkout_session"`
	PaymentIntentID *string           `json:"payment_intent_id,omitempty"`
	PaymentMethod   *string           `json:"payment_method,omitempty"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Status          string            `json:"status"`
	PaidAt          *time.Time        `json:"paid_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Booking is a purchased camp slot. A checkout session may cover several
// bookings (e.g. siblings booked together).
type Booking struct {
	ID               string     `json:"id"`
	CheckoutSession  string     `json:"checkout_session"`
	CampID           string     `json:"camp_id"`
	OrganisationID   string     `json:"organisation_id"`
	AmountDue        int64      `json:"amount_due"`
	AmountPaid       int64      `json:"amount_paid"`
	PaymentStatus    string     `json:"payment_status"`
	Status           string     `json:"status"`
	ConfirmationDate *time.Time `json:"confirmation_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CommissionRecord is the platform's cut of a booking, derived exactly once
// at settlement time. booking_id carries a unique constraint.
type CommissionRecord struct {
	ID               string     `json:"id"`
	BookingID        string     `json:"booking_id"`
	OrganisationID   string     `json:"organisation_id"`
	CommissionRate   float64    `json:"commission_rate"`
	CommissionAmount int64      `json:"commission_amount"`
	PaymentStatus    string     `json:"payment_status"`
	PayoutID         *string    `json:"payout_id,omitempty"`
	PaidDate         *time.Time `json:"paid_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Organisation is a camp provider with a connected account at the processor.
type Organisation struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	ConnectAccountID    *string    `json:"connect_account_id,omitempty"`
	PayoutsEnabled      bool       `json:"payouts_enabled"`
	ChargesEnabled      bool       `json:"charges_enabled"`
	MinimumPayoutAmount int64      `json:"minimum_payout_amount"`
	PayoutSchedule      string     `json:"payout_schedule"`
	OnboardingMode      string     `json:"onboarding_mode"`
	OnboardingStep      string     `json:"onboarding_step"`
	TempChargesEnabled  bool       `json:"temp_charges_enabled"`
	RestrictionsActive  bool       `json:"restrictions_active"`
	RestrictionReason   *string    `json:"restriction_reason,omitempty"`
	PayoutsEnabledAt    *time.Time `json:"payouts_enabled_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Payout is a settlement batch of commissions for one organisation. The
// included commissions reference it back via commission_records.payout_id,
// and commission_ids is a read-only snapshot taken at creation time.
type Payout struct {
	ID               string     `json:"id"`
	OrganisationID   string     `json:"organisation_id"`
	Amount           int64      `json:"amount"`
	CommissionIDs    []string   `json:"commission_ids"`
	PeriodStart      time.Time  `json:"period_start"`
	PeriodEnd        time.Time  `json:"period_end"`
	Status           string     `json:"status"`
	ExternalPayoutID *string    `json:"external_payout_id,omitempty"`
	CreatedBy        string     `json:"created_by"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CampCommissionInfo is the per-camp data settlement needs to derive a
// commission: the owning organisation and an optional override rate.
type CampCommissionInfo struct {
	CampID         string   `json:"camp_id"`
	OrganisationID string   `json:"organisation_id"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
}

// WebhookEventRecord is the durable, append-only log of verified processor
// events. event_id carries a unique constraint so redelivery dedups at the
// database, not in process memory.
type WebhookEventRecord struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	EventType       string     `json:"event_type"`
	Payload         []byte     `json:"payload"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError *string    `json:"processing_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

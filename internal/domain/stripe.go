/**
 * @description
 * This file defines the Go structs that model payloads received from and
 * fetched from Stripe: webhook envelopes, checkout sessions, connected
 * account state and payout objects. Only the fields the pipeline inspects
 * are modelled; everything else stays in the raw JSON.
 */
package domain

import "encoding/json"

// Webhook event types the router knows about.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventChargeRefunded    = "charge.refunded"
	EventAccountUpdated    = "account.updated"
	EventPayoutPaid        = "payout.paid"
	EventPayoutFailed      = "payout.failed"
)

// WebhookEvent is a verified, parsed processor notification.
type WebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    WebhookData     `json:"data"`
	Raw     json.RawMessage `json:"-"`
}

// WebhookData wraps the event's subject object.
type WebhookData struct {
	Object json.RawMessage `json:"object"`
}

// CheckoutSessionPayload is the subject of checkout.session.* events.
type CheckoutSessionPayload struct {
	ID                string            `json:"id"`
	PaymentIntent     string            `json:"payment_intent"`
	PaymentMethodType string            `json:"payment_method_types,omitempty"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ChargePayload is the subject of charge.refunded events.
type ChargePayload struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunded      bool   `json:"refunded"`
}

// PaymentIntentPayload is the subject of payment_intent.* events.
type PaymentIntentPayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PayoutPayload is the subject of payout.paid / payout.failed events.
type PayoutPayload struct {
	ID             string `json:"id"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// ConnectAccount is the connected-account state fetched from (or pushed by)
// the processor for a merchant organisation.
type ConnectAccount struct {
	ID               string              `json:"id"`
	ChargesEnabled   bool                `json:"charges_enabled"`
	PayoutsEnabled   bool                `json:"payouts_enabled"`
	DetailsSubmitted bool                `json:"details_submitted"`
	Requirements     AccountRequirements `json:"requirements"`
	BusinessProfile  BusinessProfile     `json:"business_profile"`
}

// AccountRequirements lists what the processor still needs from the merchant.
type AccountRequirements struct {
	CurrentlyDue   []string `json:"currently_due"`
	EventuallyDue  []string `json:"eventually_due"`
	PastDue        []string `json:"past_due"`
	DisabledReason string   `json:"disabled_reason,omitempty"`
}

// BusinessProfile carries the merchant-facing profile data.
type BusinessProfile struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// AccountBalance is the connected account's available/pending balance.
type AccountBalance struct {
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
	Currency  string `json:"currency"`
}

// AccountLink is an onboarding continuation URL created by the processor.
type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

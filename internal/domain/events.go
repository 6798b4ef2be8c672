/**
 * @description
 * Internal event payloads published to RabbitMQ: transactional email
 * notifications consumed by the notification dispatcher, and dead-letter
 * records for handler failures that must not be lost.
 */
package domain

import "time"

// NotificationEvent asks the notification dispatcher to render and deliver a
// transactional email. Delivery and retry are the dispatcher's concern.
type NotificationEvent struct {
	Template  string                 `json:"template"`
	Recipient string                 `json:"recipient,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// DeadLetterEvent records a webhook handler failure after the event was
// acknowledged to the processor.
type DeadLetterEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingSettledEvent is published per booking confirmed by settlement.
type BookingSettledEvent struct {
	BookingID      string    `json:"booking_id"`
	OrganisationID string    `json:"organisation_id"`
	AmountPaid     int64     `json:"amount_paid"`
	Timestamp      time.Time `json:"timestamp"`
}

// PayoutCreatedEvent is published per successful payout batch.
type PayoutCreatedEvent struct {
	PayoutID       string    `json:"payout_id"`
	OrganisationID string    `json:"organisation_id"`
	Amount         int64     `json:"amount"`
	Commissions    int       `json:"commissions"`
	Timestamp      time.Time `json:"timestamp"`
}

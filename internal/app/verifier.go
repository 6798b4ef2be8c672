/**
 * @description
 * Webhook signature verification for inbound Stripe notifications. The
 * signature header carries a timestamp and one or more HMAC-SHA256 values
 * over "<timestamp>.<body>"; verification is constant-time and bounded by a
 * tolerance window so captured payloads cannot be replayed later.
 *
 * A verifier cannot be constructed without a secret. Unsigned input is never
 * accepted; a deployment that has no secret configured fails at startup.
 */
package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campfire-labs/settlement-service/internal/domain"
)

const defaultSignatureTolerance = 5 * time.Minute

var (
	// ErrSignatureInvalid means the header did not match the payload. The
	// caller responds with a client error; the sender should not retry
	// without fixing the request.
	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	// ErrPayloadInvalid means the body was not a parseable event envelope.
	ErrPayloadInvalid = errors.New("webhook payload is not a valid event")
)

// Verifier authenticates raw webhook payloads and parses them into events.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier for the given signing secret. An empty
// secret is a configuration error, not permission to trust unsigned input.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

// VerifyAndParse checks the signature header against the body and returns the
// parsed event. Verification is stateless and idempotent per event id.
func (v *Verifier) VerifyAndParse(body []byte, signatureHeader string) (*domain.WebhookEvent, error) {
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		provided, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		// Multiple v1 entries appear during secret rotation; any match is
		// sufficient.
		if hmac.Equal(provided, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrSignatureInvalid
	}

	var event domain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrPayloadInvalid)
	}
	event.Raw = json.RawMessage(body)

	return &event, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]".
func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			ts, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrSignatureInvalid)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: header missing timestamp or signature", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

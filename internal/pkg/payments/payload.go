package payments

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Payload-level failures, surfaced as 400 to the caller. Never retried.
var (
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrMissingOrderID   = errors.New("webhook payload missing order id")
)

// WebhookFields is the normalized view of one provider delivery. Montonio
// payloads come in several shapes (top-level fields, wrapped in a `data`
// envelope, or nested under `order`); extraction tolerates all of them.
type WebhookFields struct {
	PaymentID string
	Status    string
	Amount    int64
	Currency  string
	Email     string
	PolicyID  *uint
	UserID    *uint
}

// IsPaid reports whether the payment status normalizes to "paid". Only paid
// statuses trigger the invoice business effect; everything else is accepted
// and recorded without financial side effect.
func (f *WebhookFields) IsPaid() bool {
	return strings.EqualFold(strings.TrimSpace(f.Status), "paid")
}

// ParseWebhookPayload extracts the normalized fields from a raw delivery
// body. Lookup order per field: top-level, then data.<field>, then
// order.<field>; first non-null wins.
func ParseWebhookPayload(rawBody []byte) (*WebhookFields, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, ErrMalformedPayload
	}

	fields := &WebhookFields{
		PaymentID: lookupString(payload, "orderId", "uuid", "paymentReference", "merchantReference"),
		Status:    lookupString(payload, "paymentStatus", "status"),
		Currency:  strings.ToUpper(lookupString(payload, "currency")),
		Email:     lookupString(payload, "customerEmail", "email"),
		PolicyID:  lookupUint(payload, "policyId"),
		UserID:    lookupUint(payload, "userId"),
	}

	if amount, ok := lookupNumber(payload, "amount"); ok {
		// amount is already in minor units
		fields.Amount = int64(math.Round(amount))
	} else if grandTotal, ok := lookupNumber(payload, "grandTotal"); ok {
		// grandTotal is a major-unit decimal, e.g. "45.50"
		fields.Amount = int64(math.Round(grandTotal * 100))
	}

	if fields.PaymentID == "" {
		return nil, ErrMissingOrderID
	}
	return fields, nil
}

// lookup returns the first non-null value for key, checking the top level,
// then the data envelope, then the order envelope.
func lookup(payload map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := payload[key]; ok && v != nil {
		return v, true
	}
	for _, envelope := range []string{"data", "order"} {
		if nested, ok := payload[envelope].(map[string]interface{}); ok {
			if v, ok := nested[key]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func lookupString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := lookup(payload, key); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func lookupNumber(payload map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := lookup(payload, key)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func lookupUint(payload map[string]interface{}, keys ...string) *uint {
	if n, ok := lookupNumber(payload, keys...); ok && n > 0 {
		id := uint(n)
		return &id
	}
	return nil
}

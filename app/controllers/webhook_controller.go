package controllers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/metrics/counter"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/montonio"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/payments"
)

// WebhookController receives Montonio payment callbacks. Two delivery
// variants exist (bearer token and signature header); both verify first and
// then delegate to the same webhook processor.
type WebhookController struct {
	service       *payments.Service
	repo          payments.Repository
	signingSecret string
	webhookSecret string
	adminAPIKey   string
}

// NewWebhookController creates a webhook controller with injected
// dependencies. signingSecret verifies bearer tokens (the provider signs
// them with the shared API secret); webhookSecret verifies raw-body HMAC
// headers.
func NewWebhookController(service *payments.Service, repo payments.Repository, signingSecret, webhookSecret, adminAPIKey string) *WebhookController {
	return &WebhookController{
		service:       service,
		repo:          repo,
		signingSecret: signingSecret,
		webhookSecret: webhookSecret,
		adminAPIKey:   adminAPIKey,
	}
}

// HandleTokenWebhook processes the token-authenticated delivery variant:
// Authorization: Bearer <signed-token>, body carrying the provider payload.
func (wc *WebhookController) HandleTokenWebhook(c *fiber.Ctx) error {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if !strings.HasPrefix(auth, "Bearer ") {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
	}

	claims, err := montonio.VerifyToken(strings.TrimPrefix(auth, "Bearer "), wc.signingSecret)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": tokenFailureReason(err)})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	if len(rawBody) == 0 {
		// Montonio can carry the payment data inside the token itself.
		rawBody, err = json.Marshal(claims)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing payload"})
		}
	}

	outcome, err := wc.service.ProcessDelivery(c.UserContext(), payments.Delivery{
		RawBody: rawBody,
		Headers: deliveryHeaders(c),
	})
	if err != nil {
		if errors.Is(err, payments.ErrMalformedPayload) || errors.Is(err, payments.ErrMissingOrderID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Errorf("[Webhook] Token delivery failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	countOutcome(outcome.Status)

	switch outcome.Status {
	case payments.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Already processed (duplicate)"})
	case payments.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Ignored: " + outcome.Note})
	case payments.OutcomeProcessed:
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"message": "Invoice recorded",
			"invoice": outcome.Invoice,
		})
	default:
		// Processing failed; the retry scheduler owns the entry now (or the
		// budget is spent). Nothing more this delivery can do.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing failed"})
	}
}

// HandleSignatureWebhook processes the signature-header delivery variant:
// x-montonio-signature (or signature) carrying a base64 HMAC of the raw body.
func (wc *WebhookController) HandleSignatureWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := firstHeaderValue(c, "x-montonio-signature", "signature")

	if !montonio.VerifyBodySignature(rawBody, signature, wc.webhookSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	outcome, err := wc.service.ProcessDelivery(c.UserContext(), payments.Delivery{
		RawBody: rawBody,
		Headers: deliveryHeaders(c),
	})
	if err != nil {
		if errors.Is(err, payments.ErrMalformedPayload) || errors.Is(err, payments.ErrMissingOrderID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": err.Error()})
		}
		log.Errorf("[Webhook] Signature delivery failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "internal error"})
	}

	countOutcome(outcome.Status)

	switch outcome.Status {
	case payments.OutcomeQueued:
		// The response must not wait for the retry chain.
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "message": "Queued for retry"})
	case payments.OutcomeFailed:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "processing failed"})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

// HandleGetWebhookLog exposes one ledger entry for operators. Failed entries
// with exhausted budgets are only discoverable through this audit trail.
func (wc *WebhookController) HandleGetWebhookLog(c *fiber.Ctx) error {
	key := firstHeaderValue(c, "apikey", "X-Admin-Key")
	if wc.adminAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(wc.adminAPIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	paymentID := strings.TrimSpace(c.Params("paymentId"))
	if paymentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "paymentId missing"})
	}

	entry, err := wc.repo.GetLogByPaymentID(paymentID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	return c.Status(fiber.StatusOK).JSON(entry)
}

// HandleGetWebhookStats reports accumulated per-outcome delivery counts.
// Same admin key as the log inspection endpoint.
func (wc *WebhookController) HandleGetWebhookStats(c *fiber.Ctx) error {
	key := firstHeaderValue(c, "apikey", "X-Admin-Key")
	if wc.adminAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(wc.adminAPIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	counts, err := counter.Snapshot()
	if err != nil {
		log.Errorf("[Webhook] Failed to read outcome counters: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"outcomes": counts})
}

func countOutcome(status string) {
	if err := counter.AddOutcome(status); err != nil {
		log.Debugf("[Webhook] Outcome counter increment failed: %v", err)
	}
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, montonio.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, montonio.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, montonio.ErrInvalidTokenFormat):
		return "invalid_token_format"
	default:
		return "exception"
	}
}

// deliveryHeaders snapshots the forensic subset of request headers retained
// on the ledger entry.
func deliveryHeaders(c *fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	for _, key := range []string{"Content-Type", "User-Agent", "X-Montonio-Signature", "Signature", "X-Forwarded-For"} {
		if v := strings.TrimSpace(c.Get(key)); v != "" {
			headers[key] = v
		}
	}
	return headers
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}

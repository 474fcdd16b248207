package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/Danils137/CenasOcta.LV-sub000/app/models"
)

// Outcome statuses reported to the webhook HTTP handlers.
const (
	// OutcomeProcessed: paid status, invoice written, ledger succeeded.
	OutcomeProcessed = "processed"
	// OutcomeDuplicate: the payment id already reached succeeded earlier.
	OutcomeDuplicate = "duplicate"
	// OutcomeIgnored: non-paid lifecycle status, recorded without effect.
	OutcomeIgnored = "ignored"
	// OutcomeQueued: business effect failed, retry handed to the scheduler.
	OutcomeQueued = "queued"
	// OutcomeFailed: business effect failed with no retry budget left.
	OutcomeFailed = "failed"
)

// RetryEnqueuer schedules an asynchronous re-attempt of a failed delivery.
// Enqueueing must not block the webhook HTTP response.
type RetryEnqueuer interface {
	EnqueueWebhookRetry(webhookLogID uint, paymentID string) error
}

// Delivery is one inbound webhook request after verification.
type Delivery struct {
	RawBody []byte
	Headers map[string]string
}

// Outcome describes what one delivery did.
type Outcome struct {
	Status  string
	Invoice *models.Invoice
	Log     *models.WebhookLog
	Note    string
}

// Service is the webhook processor: it deduplicates deliveries through the
// ledger and applies the invoice business effect at most once per provider
// payment id.
type Service struct {
	repo  Repository
	retry RetryEnqueuer
}

// NewService creates a webhook processor from injected dependencies.
func NewService(repo Repository, retry RetryEnqueuer) *Service {
	return &Service{repo: repo, retry: retry}
}

// NewServiceFromDB creates a webhook processor from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, retry RetryEnqueuer) *Service {
	return NewService(NewRepository(db), retry)
}

// ProcessDelivery runs one verified delivery through the state machine:
// received -> processing -> {succeeded | failed}. Failed entries with retry
// budget left are handed to the retry scheduler; the caller responds 202
// without waiting.
func (s *Service) ProcessDelivery(ctx context.Context, d Delivery) (*Outcome, error) {
	fields, err := ParseWebhookPayload(d.RawBody)
	if err != nil {
		return nil, err
	}

	headersJSON := ""
	if len(d.Headers) > 0 {
		if data, err := json.Marshal(d.Headers); err == nil {
			headersJSON = string(data)
		}
	}

	created, entry, err := s.repo.FindOrCreateLog(&models.WebhookLog{
		MontonioPaymentID: fields.PaymentID,
		Status:            models.WebhookStatusProcessing,
		MaxRetries:        models.WebhookMaxRetries,
		RawBody:           string(d.RawBody),
		Headers:           headersJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook delivery: %w", err)
	}

	if !created {
		if entry.IsTerminalSuccess() {
			// Replay of an already processed delivery: zero additional writes.
			return &Outcome{Status: OutcomeDuplicate, Log: entry}, nil
		}
		if !entry.RetryBudgetLeft() {
			return &Outcome{Status: OutcomeFailed, Log: entry}, nil
		}
		// Non-terminal entry: continue processing under the existing row.
	}

	return s.attempt(ctx, entry, fields)
}

// RetryAttempt re-runs the business effect for one ledger entry. Called by
// the retry scheduler; a nil return stops the retry chain, a non-nil error
// asks the scheduler to back off and try again within its budget.
func (s *Service) RetryAttempt(ctx context.Context, webhookLogID uint) error {
	entry, err := s.repo.GetLogByID(webhookLogID)
	if err != nil {
		return fmt.Errorf("failed to load webhook log %d: %w", webhookLogID, err)
	}

	// Re-read before each attempt: a concurrent delivery may have finished
	// the work, or the budget may be spent.
	if entry.IsTerminalSuccess() || !entry.RetryBudgetLeft() {
		return nil
	}

	fields, err := ParseWebhookPayload([]byte(entry.RawBody))
	if err != nil {
		// The stored body will never parse differently; burn the attempt and
		// leave the reason on the ledger row.
		if markErr := s.repo.MarkLogFailed(entry.ID, err.Error()); markErr != nil {
			log.Errorf("[Payments] Failed to mark webhook log %d: %v", entry.ID, markErr)
		}
		return err
	}

	outcome, err := s.applyEffect(ctx, entry, fields)
	if err != nil {
		return err
	}
	log.Infof("[Payments] Retry attempt for payment %s finished with status %s", entry.MontonioPaymentID, outcome.Status)
	return nil
}

// attempt applies the business effect once and routes failures to the retry
// scheduler.
func (s *Service) attempt(ctx context.Context, entry *models.WebhookLog, fields *WebhookFields) (*Outcome, error) {
	outcome, err := s.applyEffect(ctx, entry, fields)
	if err == nil {
		return outcome, nil
	}

	attempts := entry.Attempts + 1 // MarkLogFailed incremented the stored row
	if attempts < entry.MaxRetries && s.retry != nil {
		if enqErr := s.retry.EnqueueWebhookRetry(entry.ID, entry.MontonioPaymentID); enqErr != nil {
			log.Errorf("[Payments] Failed to enqueue retry for payment %s: %v", entry.MontonioPaymentID, enqErr)
			return &Outcome{Status: OutcomeFailed, Log: entry}, nil
		}
		log.Warnf("[Payments] Payment %s attempt %d failed, queued for retry: %v", entry.MontonioPaymentID, attempts, err)
		return &Outcome{Status: OutcomeQueued, Log: entry}, nil
	}

	log.Errorf("[Payments] Payment %s permanently failed after %d attempts: %v", entry.MontonioPaymentID, attempts, err)
	return &Outcome{Status: OutcomeFailed, Log: entry}, nil
}

// applyEffect performs the at-most-once business effect and records the
// terminal ledger state for this attempt. Non-paid statuses succeed with a
// note and no invoice.
func (s *Service) applyEffect(ctx context.Context, entry *models.WebhookLog, fields *WebhookFields) (*Outcome, error) {
	_ = ctx

	if !fields.IsPaid() {
		note := "ignored status " + fields.Status
		if err := s.repo.MarkLogSucceeded(entry.ID, nil, note); err != nil {
			return s.recordFailure(entry, err)
		}
		return &Outcome{Status: OutcomeIgnored, Log: entry, Note: note}, nil
	}

	currency := fields.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	now := time.Now()
	invoice := &models.Invoice{
		UserID:            fields.UserID,
		PolicyID:          fields.PolicyID,
		Email:             fields.Email,
		Amount:            fields.Amount,
		Currency:          currency,
		MontonioPaymentID: fields.PaymentID,
		Status:            models.InvoiceStatusPaid,
		PaidAt:            &now,
	}
	if err := s.repo.UpsertInvoice(invoice); err != nil {
		return s.recordFailure(entry, err)
	}

	if err := s.repo.MarkLogSucceeded(entry.ID, &invoice.ID, ""); err != nil {
		return s.recordFailure(entry, err)
	}
	return &Outcome{Status: OutcomeProcessed, Invoice: invoice, Log: entry}, nil
}

func (s *Service) recordFailure(entry *models.WebhookLog, cause error) (*Outcome, error) {
	if err := s.repo.MarkLogFailed(entry.ID, cause.Error()); err != nil {
		log.Errorf("[Payments] Failed to mark webhook log %d failed: %v", entry.ID, err)
	}
	return nil, cause
}

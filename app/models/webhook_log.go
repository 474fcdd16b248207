package models

import "time"

const (
	WebhookStatusProcessing = "processing"
	WebhookStatusSucceeded  = "succeeded"
	WebhookStatusFailed     = "failed"

	// WebhookMaxRetries bounds processing attempts per delivery, the first
	// attempt included.
	WebhookMaxRetries = 5
)

// WebhookLog stores one provider delivery (and its retries) with
// deduplication metadata for idempotent processing. Rows are never deleted;
// they are the audit trail for payment ingestion.
type WebhookLog struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	MontonioPaymentID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_logs_montonio_payment_id" json:"montonio_payment_id"`
	Status            string     `gorm:"type:varchar(20);not null;default:'processing';index" json:"status"`
	Attempts          int        `gorm:"not null;default:0" json:"attempts"`
	MaxRetries        int        `gorm:"not null;default:5" json:"max_retries"`
	RawBody           string     `gorm:"type:longtext;not null" json:"raw_body"`
	Headers           string     `gorm:"type:longtext" json:"headers"`
	LastError         string     `gorm:"type:text" json:"last_error"`
	Note              string     `gorm:"type:varchar(255)" json:"note"`
	InvoiceID         *uint      `gorm:"index" json:"invoice_id,omitempty"`
	ProcessedAt       *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminalSuccess reports whether the delivery already applied its
// business effect.
func (w *WebhookLog) IsTerminalSuccess() bool {
	return w.Status == WebhookStatusSucceeded
}

// RetryBudgetLeft reports whether another processing attempt is allowed.
func (w *WebhookLog) RetryBudgetLeft() bool {
	max := w.MaxRetries
	if max <= 0 {
		max = WebhookMaxRetries
	}
	return w.Attempts < max
}

package models

import "time"

const (
	InvoiceStatusPaid = "paid"

	// DefaultCurrency is applied when a webhook payload omits the currency.
	DefaultCurrency = "EUR"
)

// Invoice is the business record of a paid transaction. At most one invoice
// may ever exist per provider payment id; the unique index on
// montonio_payment_id is the arbiter under concurrent webhook deliveries.
type Invoice struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            *uint      `gorm:"index" json:"user_id,omitempty"`
	PolicyID          *uint      `gorm:"index" json:"policy_id,omitempty"`
	Email             string     `gorm:"type:varchar(255);index" json:"email"`
	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	MontonioPaymentID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_invoices_montonio_payment_id" json:"montonio_payment_id"`
	Status            string     `gorm:"type:varchar(20);not null;default:'paid';index" json:"status"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

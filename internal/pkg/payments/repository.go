package payments

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Danils137/CenasOcta.LV-sub000/app/models"
)

// Repository provides the ledger and invoice DB operations used by the
// webhook processor.
type Repository interface {
	Exists(paymentID string) (bool, error)
	FindOrCreateLog(entry *models.WebhookLog) (created bool, stored *models.WebhookLog, err error)
	GetLogByID(id uint) (*models.WebhookLog, error)
	GetLogByPaymentID(paymentID string) (*models.WebhookLog, error)
	UpsertInvoice(inv *models.Invoice) error
	MarkLogSucceeded(id uint, invoiceID *uint, note string) error
	MarkLogFailed(id uint, lastError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Exists(paymentID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.WebhookLog{}).
		Where("montonio_payment_id = ?", paymentID).
		Count(&count).Error
	return count > 0, err
}

// FindOrCreateLog claims a delivery with a single insert-or-detect-conflict
// write. The unique index on montonio_payment_id is the arbiter: under
// concurrent deliveries of the same payment id exactly one caller observes
// created=true, everyone else gets the existing row.
func (r *gormRepository) FindOrCreateLog(entry *models.WebhookLog) (bool, *models.WebhookLog, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "montonio_payment_id"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0

	var stored models.WebhookLog
	if err := r.db.Where("montonio_payment_id = ?", entry.MontonioPaymentID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetLogByID(id uint) (*models.WebhookLog, error) {
	var entry models.WebhookLog
	if err := r.db.First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *gormRepository) GetLogByPaymentID(paymentID string) (*models.WebhookLog, error) {
	var entry models.WebhookLog
	if err := r.db.Where("montonio_payment_id = ?", paymentID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertInvoice writes the invoice keyed by the provider payment id. A
// re-delivered paid webhook updates payment state instead of inserting a
// second invoice.
func (r *gormRepository) UpsertInvoice(inv *models.Invoice) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "montonio_payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"paid_at",
			"policy_id",
			"updated_at",
		}),
	}).Create(inv).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("montonio_payment_id = ?", inv.MontonioPaymentID).
		First(inv).Error
}

func (r *gormRepository) MarkLogSucceeded(id uint, invoiceID *uint, note string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       models.WebhookStatusSucceeded,
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   "",
		"note":         note,
		"processed_at": &now,
	}
	if invoiceID != nil {
		updates["invoice_id"] = *invoiceID
	}
	return r.db.Model(&models.WebhookLog{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) MarkLogFailed(id uint, lastError string) error {
	updates := map[string]interface{}{
		"status":     models.WebhookStatusFailed,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastError,
	}
	return r.db.Model(&models.WebhookLog{}).Where("id = ?", id).Updates(updates).Error
}

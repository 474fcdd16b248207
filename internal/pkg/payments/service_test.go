package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danils137/CenasOcta.LV-sub000/app/models"
)

// fakeRepository is an in-memory Repository honoring the unique constraint
// on montonio_payment_id, including under concurrent FindOrCreateLog calls.
type fakeRepository struct {
	mu       sync.Mutex
	nextID   uint
	logs     map[string]*models.WebhookLog
	invoices map[string]*models.Invoice

	invoiceErr    error
	invoiceWrites int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		logs:     make(map[string]*models.WebhookLog),
		invoices: make(map[string]*models.Invoice),
	}
}

func (r *fakeRepository) Exists(paymentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.logs[paymentID]
	return ok, nil
}

func (r *fakeRepository) FindOrCreateLog(entry *models.WebhookLog) (bool, *models.WebhookLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.logs[entry.MontonioPaymentID]; ok {
		clone := *existing
		return false, &clone, nil
	}
	r.nextID++
	entry.ID = r.nextID
	stored := *entry
	r.logs[entry.MontonioPaymentID] = &stored
	clone := stored
	return true, &clone, nil
}

func (r *fakeRepository) GetLogByID(id uint) (*models.WebhookLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.logs {
		if entry.ID == id {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, errors.New("record not found")
}

func (r *fakeRepository) GetLogByPaymentID(paymentID string) (*models.WebhookLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.logs[paymentID]; ok {
		clone := *entry
		return &clone, nil
	}
	return nil, errors.New("record not found")
}

func (r *fakeRepository) UpsertInvoice(inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoiceWrites++
	if r.invoiceErr != nil {
		return r.invoiceErr
	}
	if existing, ok := r.invoices[inv.MontonioPaymentID]; ok {
		inv.ID = existing.ID
	} else {
		r.nextID++
		inv.ID = r.nextID
	}
	stored := *inv
	r.invoices[inv.MontonioPaymentID] = &stored
	return nil
}

func (r *fakeRepository) MarkLogSucceeded(id uint, invoiceID *uint, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.logs {
		if entry.ID == id {
			now := time.Now()
			entry.Status = models.WebhookStatusSucceeded
			entry.Attempts++
			entry.LastError = ""
			entry.Note = note
			entry.ProcessedAt = &now
			if invoiceID != nil {
				entry.InvoiceID = invoiceID
			}
			return nil
		}
	}
	return errors.New("record not found")
}

func (r *fakeRepository) MarkLogFailed(id uint, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.logs {
		if entry.ID == id {
			entry.Status = models.WebhookStatusFailed
			entry.Attempts++
			entry.LastError = lastError
			return nil
		}
	}
	return errors.New("record not found")
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []uint
}

func (e *fakeEnqueuer) EnqueueWebhookRetry(webhookLogID uint, paymentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, webhookLogID)
	return nil
}

func paidDelivery(paymentID string) Delivery {
	return Delivery{
		RawBody: []byte(`{"orderId":"` + paymentID + `","paymentStatus":"paid","amount":4550,"currency":"EUR","customerEmail":"jane@example.com"}`),
		Headers: map[string]string{"x-montonio-signature": "sig"},
	}
}

func TestProcessDelivery_Paid(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeEnqueuer{})

	outcome, err := svc.ProcessDelivery(context.Background(), paidDelivery("ABC123"))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome.Status)
	require.NotNil(t, outcome.Invoice)

	assert.Equal(t, "ABC123", outcome.Invoice.MontonioPaymentID)
	assert.Equal(t, int64(4550), outcome.Invoice.Amount)
	assert.Equal(t, "EUR", outcome.Invoice.Currency)
	assert.Equal(t, "jane@example.com", outcome.Invoice.Email)
	assert.NotNil(t, outcome.Invoice.PaidAt)

	entry, err := repo.GetLogByPaymentID("ABC123")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSucceeded, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.NotNil(t, entry.ProcessedAt)
	require.NotNil(t, entry.InvoiceID)
	assert.Equal(t, outcome.Invoice.ID, *entry.InvoiceID)
}

func TestProcessDelivery_DuplicateIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeEnqueuer{})

	first, err := svc.ProcessDelivery(context.Background(), paidDelivery("ABC123"))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, first.Status)
	writesAfterFirst := repo.invoiceWrites

	second, err := svc.ProcessDelivery(context.Background(), paidDelivery("ABC123"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Status)
	assert.Equal(t, writesAfterFirst, repo.invoiceWrites, "replay must perform zero additional invoice writes")

	require.Len(t, repo.invoices, 1)
}

func TestProcessDelivery_ConcurrentSamePaymentID(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeEnqueuer{})

	const workers = 8
	var wg sync.WaitGroup
	outcomes := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := svc.ProcessDelivery(context.Background(), paidDelivery("RACE-1"))
			if err == nil {
				outcomes[i] = outcome.Status
			}
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, status := range outcomes {
		if status == OutcomeProcessed {
			processed++
		}
	}
	assert.GreaterOrEqual(t, processed, 1)

	// At most one invoice and one succeeded ledger entry, no matter the
	// interleaving.
	assert.Len(t, repo.invoices, 1)
	assert.Len(t, repo.logs, 1)
	entry, err := repo.GetLogByPaymentID("RACE-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSucceeded, entry.Status)
}

func TestProcessDelivery_NonPaidStatus(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeEnqueuer{})

	outcome, err := svc.ProcessDelivery(context.Background(), Delivery{
		RawBody: []byte(`{"orderId":"PEND-1","paymentStatus":"pending"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome.Status)
	assert.Contains(t, outcome.Note, "pending")
	assert.Empty(t, repo.invoices, "non-paid status must not create an invoice")

	entry, err := repo.GetLogByPaymentID("PEND-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSucceeded, entry.Status, "ignored deliveries are recorded as succeeded, not failed")
	assert.Contains(t, entry.Note, "pending")
}

func TestProcessDelivery_MissingOrderID(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeEnqueuer{})

	_, err := svc.ProcessDelivery(context.Background(), Delivery{
		RawBody: []byte(`{"paymentStatus":"paid","amount":100}`),
	})
	assert.ErrorIs(t, err, ErrMissingOrderID)
	assert.Empty(t, repo.logs, "no ledger entry may be created without an order id")
}

func TestProcessDelivery_MalformedBody(t *testing.T) {
	svc := NewService(newFakeRepository(), &fakeEnqueuer{})
	_, err := svc.ProcessDelivery(context.Background(), Delivery{RawBody: []byte(`{not json`)})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestProcessDelivery_FailureQueuesRetry(t *testing.T) {
	repo := newFakeRepository()
	repo.invoiceErr = errors.New("db write refused")
	enq := &fakeEnqueuer{}
	svc := NewService(repo, enq)

	outcome, err := svc.ProcessDelivery(context.Background(), paidDelivery("FAIL-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome.Status)
	require.Len(t, enq.jobs, 1)

	entry, err := repo.GetLogByPaymentID("FAIL-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "db write refused", entry.LastError)
}

func TestRetryAttempt_ExhaustsBudget(t *testing.T) {
	repo := newFakeRepository()
	repo.invoiceErr = errors.New("db write refused")
	enq := &fakeEnqueuer{}
	svc := NewService(repo, enq)

	outcome, err := svc.ProcessDelivery(context.Background(), paidDelivery("EXH-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, outcome.Status)
	logID := enq.jobs[0]

	// Drive the retry chain until it stops on its own.
	for i := 0; i < 10; i++ {
		if retryErr := svc.RetryAttempt(context.Background(), logID); retryErr == nil {
			break
		}
	}

	// Exactly maxRetries total business-effect executions: 1 initial + 4
	// scheduled retries.
	assert.Equal(t, models.WebhookMaxRetries, repo.invoiceWrites)

	entry, err := repo.GetLogByID(logID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusFailed, entry.Status)
	assert.Equal(t, models.WebhookMaxRetries, entry.Attempts)
	assert.Equal(t, "db write refused", entry.LastError)

	// Budget spent: further attempts stop silently without touching the DB.
	require.NoError(t, svc.RetryAttempt(context.Background(), logID))
	assert.Equal(t, models.WebhookMaxRetries, repo.invoiceWrites)
}

func TestRetryAttempt_SucceedsAfterTransientFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.invoiceErr = errors.New("transient outage")
	enq := &fakeEnqueuer{}
	svc := NewService(repo, enq)

	outcome, err := svc.ProcessDelivery(context.Background(), paidDelivery("TRANS-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, outcome.Status)

	repo.invoiceErr = nil
	require.NoError(t, svc.RetryAttempt(context.Background(), enq.jobs[0]))

	entry, err := repo.GetLogByPaymentID("TRANS-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSucceeded, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
	assert.Empty(t, entry.LastError, "last error is cleared on success")
	require.Len(t, repo.invoices, 1)
}

func TestRetryAttempt_StopsWhenAlreadySucceeded(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeEnqueuer{})

	outcome, err := svc.ProcessDelivery(context.Background(), paidDelivery("DONE-1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome.Status)
	writes := repo.invoiceWrites

	// A stale retry job for an already succeeded entry is a silent no-op.
	require.NoError(t, svc.RetryAttempt(context.Background(), outcome.Log.ID))
	assert.Equal(t, writes, repo.invoiceWrites)
}

func TestParseWebhookPayload_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"top-level", `{"orderId":"X1","paymentStatus":"PAID","amount":4550,"currency":"eur","customerEmail":"a@b.c"}`},
		{"data envelope", `{"data":{"orderId":"X1","paymentStatus":"paid","amount":4550,"currency":"EUR","customerEmail":"a@b.c"}}`},
		{"order envelope", `{"order":{"uuid":"X1","status":"Paid","grandTotal":"45.50","currency":"EUR","email":"a@b.c"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := ParseWebhookPayload([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, "X1", fields.PaymentID)
			assert.True(t, fields.IsPaid())
			assert.Equal(t, int64(4550), fields.Amount)
			assert.Equal(t, "EUR", fields.Currency)
			assert.Equal(t, "a@b.c", fields.Email)
		})
	}
}

func TestParseWebhookPayload_TopLevelWins(t *testing.T) {
	body := `{"orderId":"OUTER","data":{"orderId":"INNER"},"paymentStatus":"paid"}`
	fields, err := ParseWebhookPayload([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "OUTER", fields.PaymentID)
}

func TestParseWebhookPayload_PolicyAndUser(t *testing.T) {
	body := `{"orderId":"X1","paymentStatus":"paid","policyId":7,"userId":42}`
	fields, err := ParseWebhookPayload([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, fields.PolicyID)
	require.NotNil(t, fields.UserID)
	assert.Equal(t, uint(7), *fields.PolicyID)
	assert.Equal(t, uint(42), *fields.UserID)
}

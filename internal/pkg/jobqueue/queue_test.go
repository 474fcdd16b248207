package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(tt.workers)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.NotNil(t, queue.workerPool)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.running)
		})
	}
}

func TestConstants(t *testing.T) {
	// Test Redis key constants
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	// Test job settings constants
	assert.Equal(t, 5, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{5, 150 * time.Second},
		{10, 300 * time.Second},
		{11, 300 * time.Second}, // capped at 5 minutes
		{0, 30 * time.Second},   // clamped to the first step
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestWebhookRetryJobPayloadRoundTrip(t *testing.T) {
	payload := WebhookRetryJobPayload{
		WebhookLogID:      42,
		MontonioPaymentID: "ABC123",
	}

	got, err := WebhookRetryJobPayloadFromMap(payload.ToMap())
	assert.NoError(t, err)
	assert.Equal(t, uint(42), got.WebhookLogID)
	assert.Equal(t, "ABC123", got.MontonioPaymentID)
}

func TestJobStateTransitions(t *testing.T) {
	job := &Job{
		ID:         "j-1",
		Type:       JobTypeWebhookRetry,
		Status:     JobStatusPending,
		MaxRetries: DefaultMaxRetries,
	}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("effect failed")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "effect failed", job.ErrorMsg)
	assert.True(t, job.IsRetryable())

	for i := 0; i < DefaultMaxRetries-1; i++ {
		job.MarkAsFailed("effect failed")
	}
	assert.False(t, job.IsRetryable(), "retry budget must exhaust at MaxRetries")

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.CompletedAt)
}

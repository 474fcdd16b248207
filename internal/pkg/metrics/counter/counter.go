package counter

import (
	"context"
	"strconv"

	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/cache"
)

const outcomesKey = "payments:counters:outcomes"

// AddOutcome increments the delivery counter for one webhook outcome status
// in Redis. Best effort: callers log the error and move on, a missed count
// never blocks a delivery.
func AddOutcome(status string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, outcomesKey, status, 1).Err()
}

// Snapshot returns the accumulated per-outcome delivery counts.
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, outcomesKey).Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(data))
	for status, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		counts[status] = n
	}
	return counts, nil
}

// Reset clears the accumulated counters.
func Reset() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, outcomesKey).Err()
}

// Package numbering allocates document numbers in the PREFIX-YYYY-NNNNN
// format. A dedicated Redis counter per prefix and year replaces the old
// read-last-row-plus-one pattern, which duplicated numbers under concurrency;
// callers still retry on a unique-constraint violation in case the counter
// was ever reset behind the database's back.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Allocator hands out gapless-per-counter document numbers.
type Allocator struct {
	client *redis.Client
}

// NewAllocator constructs an Allocator.
func NewAllocator(client *redis.Client) *Allocator {
	return &Allocator{client: client}
}

// ErrUnavailable indicates the counter backend cannot be reached.
var ErrUnavailable = errors.New("numbering: counter unavailable")

// Next returns the next number for prefix in the given year, e.g. SO-2026-00042.
func (a *Allocator) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	if prefix == "" {
		return "", errors.New("numbering: prefix required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	year := at.UTC().Year()
	seq, err := a.client.Incr(ctx, counterKey(prefix, year)).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq), nil
}

// Seed fast-forwards a counter, used when adopting documents numbered by the
// previous system. It never rewinds.
func (a *Allocator) Seed(ctx context.Context, prefix string, year int, floor int64) error {
	key := counterKey(prefix, year)
	current, err := a.client.Get(ctx, key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if current >= floor {
		return nil
	}
	if err := a.client.Set(ctx, key, floor, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func counterKey(prefix string, year int) string {
	return fmt.Sprintf("numbering:%s:%d", prefix, year)
}

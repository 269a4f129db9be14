package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Byte size multipliers.
const (
	B  int64 = 1
	KB       = 1024 * B
	MB       = 1024 * KB
	GB       = 1024 * MB
)

// ByteBucket shapes download throughput using a token bucket denominated
// in bytes per second. A limit of 0 or negative means unlimited.
type ByteBucket struct {
	mu     sync.Mutex
	limit  int64 // bytes per second, 0 or negative = unlimited
	tokens int64
	last   time.Time
}

// NewByteBucket creates a byte bucket. limit is in bytes per second.
// 0 or negative means unlimited.
func NewByteBucket(limit int64) *ByteBucket {
	return &ByteBucket{
		limit: limit,
		last:  time.Now(),
		// start with empty bucket - no initial burst
	}
}

// SetLimit updates the rate limit dynamically. 0 or negative means unlimited.
func (b *ByteBucket) SetLimit(limit int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = limit
	if limit > 0 && b.tokens > limit {
		b.tokens = limit
	}
}

// Limit returns the current rate limit in bytes per second.
func (b *ByteBucket) Limit() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit
}

// Acquire blocks until n bytes worth of tokens are available, or ctx is
// done. The download engine calls it around each chunk read.
func (b *ByteBucket) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	b.mu.Lock()
	if b.limit <= 0 {
		b.mu.Unlock()
		return nil
	}

	// Refill tokens based on elapsed time, capped at one second worth
	// of data to bound bursts.
	now := time.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	b.tokens += int64(float64(b.limit) * elapsed.Seconds())
	if b.tokens > b.limit {
		b.tokens = b.limit
	}

	want := int64(n)
	if want > b.limit {
		want = b.limit // never hold more than 1 second worth
	}

	if b.tokens >= want {
		b.tokens -= int64(n)
		b.mu.Unlock()
		return nil
	}

	needed := want - b.tokens
	waitTime := time.Duration(float64(time.Second) * float64(needed) / float64(b.limit))
	b.tokens -= int64(n)
	b.mu.Unlock()

	select {
	case <-time.After(waitTime):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParseSpeedLimit parses a human-readable speed limit string.
// Returns bytes per second. 0 means unlimited.
//
// Supported formats:
//   - Plain bytes: "100", "1024"
//   - With B suffix: "100B", "1024B"
//   - Kilobytes: "512KB", "512kb"
//   - Megabytes: "1MB", "1.5mb"
//   - Gigabytes: "1GB", "2.5gb"
//
// Returns an error for invalid formats. An empty string means unlimited.
func ParseSpeedLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	s = strings.ToUpper(s)

	var numStr string
	var unit string

	// Find where the number ends and unit begins
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' && c != '-' {
			numStr = s[:i]
			unit = s[i:]
			break
		}
	}

	// If no unit found, it's just a number
	if numStr == "" {
		numStr = s
		unit = ""
	}

	if numStr == "" {
		return 0, fmt.Errorf("invalid speed limit: no numeric value in %q", s)
	}

	if strings.HasPrefix(numStr, "-") {
		return 0, fmt.Errorf("invalid speed limit: negative value not allowed in %q", s)
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid speed limit: %q is not a valid number", numStr)
	}

	var multiplier int64
	switch unit {
	case "", "B":
		multiplier = B
	case "KB", "K":
		multiplier = KB
	case "MB", "M":
		multiplier = MB
	case "GB", "G":
		multiplier = GB
	default:
		return 0, fmt.Errorf("invalid speed limit unit: %q (use B, KB, MB, or GB)", unit)
	}

	result := int64(num * float64(multiplier))
	if result < 0 {
		return 0, fmt.Errorf("invalid speed limit: result is negative")
	}
	return result, nil
}

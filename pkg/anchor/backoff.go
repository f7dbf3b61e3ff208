package anchor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sentinelx-labs/audittrail/pkg/merkle"
)

// RetryPolicy bounds ledger submission retries. Delays grow exponentially
// from BaseDelay, cap at MaxDelay, and carry deterministic jitter seeded by
// the batch root and attempt index, so a replayed anchoring run produces an
// identical schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy mirrors the deployment defaults: five attempts,
// two seconds base, one minute cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Backoff returns the delay before retrying after the given zero-based
// attempt failed.
func (p RetryPolicy) Backoff(root merkle.Digest, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Cap the exponent to avoid overflow.
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := time.Duration(int64(p.BaseDelay) * factor)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return delay + p.jitter(root, attempt)
}

// jitter derives a stable pseudo-random offset from the root and attempt.
func (p RetryPolicy) jitter(root merkle.Digest, attempt int) time.Duration {
	if p.MaxJitter <= 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%d", root.String(), attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])

	return time.Duration(basis % uint64(p.MaxJitter))
}

// Package limiter provides token-bucket rate limiting for the ingest API.
//
// Two stores implement the same contract: LocalStore for single-process
// deployments and RedisStore for multi-replica ones, where the bucket state
// must be shared.
package limiter

import "context"

// Policy caps request rates for one key class.
type Policy struct {
	RPM   int `json:"rpm"`   // Sustained requests per minute
	Burst int `json:"burst"` // Bucket capacity
}

// Store abstracts the bucket storage.
type Store interface {
	// Allow reports whether the actor behind key may spend cost tokens.
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalStore keeps one token bucket per key in process memory.
type LocalStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalStore creates an in-process store and starts its stale-entry
// cleanup loop.
func NewLocalStore() *LocalStore {
	s := &LocalStore{
		buckets: make(map[string]*bucket),
	}
	go s.cleanup()
	return s
}

// Allow consumes cost tokens from the key's bucket. A key's bucket is shaped
// by the policy it first sees; callers use one policy per key class.
func (s *LocalStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(policy.RPM) / 60.0)
		if perSecond <= 0 {
			perSecond = 1
		}
		b = &bucket{limiter: rate.NewLimiter(perSecond, policy.Burst)}
		s.buckets[key] = b
	}
	b.lastSeen = time.Now()
	lim := b.limiter
	s.mu.Unlock()

	return lim.AllowN(time.Now(), cost), nil
}

// cleanup removes buckets idle for over three minutes so the map does not
// grow with one entry per client ever seen.
func (s *LocalStore) cleanup() {
	for {
		time.Sleep(time.Minute)
		s.mu.Lock()
		for key, b := range s.buckets {
			if time.Since(b.lastSeen) > 3*time.Minute {
				delete(s.buckets, key)
			}
		}
		s.mu.Unlock()
	}
}

package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/httputil"
)

// bucket tracks a token bucket per client IP.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketStore manages per-IP token buckets and evicts idle ones.
type bucketStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rps       float64
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	nowFunc   func() time.Time
}

func newBucketStore(rps float64, burst int, ttl time.Duration) *bucketStore {
	return &bucketStore{
		buckets:   make(map[string]*bucket),
		rps:       rps,
		burst:     burst,
		ttl:       ttl,
		lastSweep: time.Now(),
		nowFunc:   time.Now,
	}
}

// get returns (or creates) the bucket for ip and refreshes lastSeen.
// Idle buckets are evicted lazily, at most once per ttl.
func (s *bucketStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	b, ok := s.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.buckets[ip] = b
	}
	b.lastSeen = now

	if now.Sub(s.lastSweep) > s.ttl {
		for key, other := range s.buckets {
			if now.Sub(other.lastSeen) > s.ttl {
				delete(s.buckets, key)
			}
		}
		s.lastSweep = now
	}
	return b.limiter
}

func (s *bucketStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Throttle returns middleware enforcing a per-IP token bucket of rps requests
// per second with the given burst. Excess requests get 429 RATE_LIMITED.
// A non-positive rps disables the throttle.
func Throttle(rps float64, burst int, logger *slog.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	store := newBucketStore(rps, burst, 10*time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !store.get(ip).Allow() {
				logger.WarnContext(r.Context(), "request throttled",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, apperrors.TooManyRequests("too many requests"), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

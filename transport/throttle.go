package transport

import (
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Throttle limits request rates per remote client address.
type Throttle struct {
	logger *zap.Logger
	rps    rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a throttle allowing rps requests per second with the
// given burst per client. A non-positive rps disables throttling.
func NewThrottle(logger *zap.Logger, rps, burst int) *Throttle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst <= 0 {
		burst = rps
	}
	return &Throttle{
		logger:   logger.Named("throttle"),
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(t.rps, t.burst)
		t.limiters[key] = limiter
	}
	return limiter
}

// Middleware wraps next with the rate check; rejected requests get 429.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !t.limiter(host).Allow() {
			t.logger.Warn("Request throttled", zap.String("remote", host), zap.String("path", r.URL.Path))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package control

import (
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// HandshakeLimiter throttles pairing attempts per remote IP so a four-digit
// code cannot be brute-forced across repeated connections.
type HandshakeLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

func NewHandshakeLimiter(perSecond float64, burst int) *HandshakeLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 3
	}
	return &HandshakeLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rate:      rate.Limit(perSecond),
		burstSize: burst,
	}
}

// Allow reports whether another handshake from remoteAddr may proceed now.
func (l *HandshakeLimiter) Allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burstSize)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

package api

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxLimiterEntries = 10000
	limiterIdle       = time.Hour
)

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu        sync.Mutex
	m         map[string]*limitEntry
	perSecond float64
	burst     int
	now       func() time.Time
}

type limitEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	return &clientLimiter{
		m:         make(map[string]*limitEntry),
		perSecond: perSecond,
		burst:     burst,
		now:       time.Now,
	}
}

func (l *clientLimiter) Allow(remoteAddr string) bool {
	if l.perSecond <= 0 {
		return true
	}
	client := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		client = host
	}

	now := l.now()
	l.mu.Lock()
	entry, ok := l.m[client]
	if !ok {
		if len(l.m) >= maxLimiterEntries {
			l.evictIdle(now)
		}
		entry = &limitEntry{limiter: rate.NewLimiter(rate.Limit(l.perSecond), l.burst)}
		l.m[client] = entry
	}
	entry.lastUsed = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// evictIdle must be called with mu held.
func (l *clientLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-limiterIdle)
	for client, entry := range l.m {
		if entry.lastUsed.Before(cutoff) {
			delete(l.m, client)
		}
	}
}

package main

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTime = 5 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// ipLimiters hands out one token bucket per client address.
type ipLimiters struct {
	limiters sync.Map
	every    time.Duration
	burst    int
}

func newIPLimiters(every time.Duration, burst int) *ipLimiters {
	return &ipLimiters{every: every, burst: burst}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	now := time.Now().UnixNano()
	if val, ok := l.limiters.Load(ip); ok {
		entry := val.(*ipLimiter)
		entry.lastSeen.Store(now)
		return entry.limiter
	}
	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
	entry.lastSeen.Store(now)
	actual, loaded := l.limiters.LoadOrStore(ip, entry)
	if loaded {
		actual.(*ipLimiter).lastSeen.Store(now)
		return actual.(*ipLimiter).limiter
	}
	return entry.limiter
}

func (l *ipLimiters) Allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *ipLimiters) sweep(cutoff time.Time) {
	c := cutoff.UnixNano()
	l.limiters.Range(func(key, value any) bool {
		if value.(*ipLimiter).lastSeen.Load() < c {
			l.limiters.Delete(key)
		}
		return true
	})
}

func (l *ipLimiters) size() int {
	n := 0
	l.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (l *ipLimiters) startCleanup(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep(time.Now().Add(-limiterIdleTime))
			case <-done:
				return
			}
		}
	}()
}

var privateRanges []*net.IPNet

func init() {
	privCIDRs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"::1/128",
		"fc00::/7",
	}
	for _, cidr := range privCIDRs {
		_, network, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP resolves the caller's address. X-Forwarded-For is only honored
// when the request comes from the trusted proxy, given as an address or a
// CIDR.
type clientIP struct {
	proxy    string
	proxyNet *net.IPNet
}

func newClientIP(trustedProxy string) clientIP {
	c := clientIP{proxy: trustedProxy}
	if strings.Contains(trustedProxy, "/") {
		if _, network, err := net.ParseCIDR(trustedProxy); err == nil {
			c.proxyNet = network
		}
	}
	return c
}

func (c clientIP) extract(r *http.Request) string {
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteHost = r.RemoteAddr
	}

	trusted := false
	if c.proxyNet != nil {
		remoteIP := net.ParseIP(remoteHost)
		trusted = remoteIP != nil && c.proxyNet.Contains(remoteIP)
	} else if c.proxy != "" {
		trusted = remoteHost == c.proxy
	}
	if !trusted {
		return remoteHost
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			candidate := strings.TrimSpace(parts[i])
			if ip := net.ParseIP(candidate); ip != nil && !isPrivateIP(ip) {
				return candidate
			}
		}
	}
	return remoteHost
}

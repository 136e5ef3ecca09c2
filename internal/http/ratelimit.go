package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateLimiter is a fixed one-minute window limiter keyed by client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	limit        int
	now          func() time.Time
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	windowStart time.Time
	requests    int
}

func newRateLimiter(perMinute int) *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		limit:       perMinute,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries.
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes.
func (rl *rateLimiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-10 * time.Minute)
	removed := 0
	for ip, client := range rl.clients {
		if client.windowStart.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// allow reports whether clientIP is still inside its budget for the
// current window.
func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[clientIP]
	if !exists || now.Sub(client.windowStart) >= time.Minute {
		rl.clients[clientIP] = &clientInfo{windowStart: now, requests: 1}
		return true
	}

	client.requests++
	return client.requests <= rl.limit
}

// trustedProxies may set forwarding headers.
var trustedProxies = []*net.IPNet{
	parseCIDR("127.0.0.0/8"),
	parseCIDR("::1/128"),
	parseCIDR("10.0.0.0/8"),
	parseCIDR("172.16.0.0/12"),
	parseCIDR("192.168.0.0/16"),
}

func parseCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

func isTrustedProxy(ip net.IP) bool {
	for _, network := range trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address, or the forwarded client address when
// the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	parsed := net.ParseIP(directIP)
	if parsed == nil || !isTrustedProxy(parsed) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return directIP
}

package server

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter tracks failed authentication attempts and blocks IPs
type RateLimiter struct {
	mu          sync.RWMutex
	blockedIPs  map[string]time.Time
	blockPeriod time.Duration
	now         func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop. Call Stop to end it.
func NewRateLimiter(blockPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		blockedIPs:  make(map[string]time.Time),
		blockPeriod: blockPeriod,
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	go rl.cleanup(time.Minute)

	return rl
}

// IsBlocked checks if an IP is currently blocked
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	blockedUntil, exists := rl.blockedIPs[ip]
	if !exists {
		return false
	}

	return rl.now().Before(blockedUntil)
}

// BlockIP blocks an IP for the configured period
func (rl *RateLimiter) BlockIP(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.blockedIPs[ip] = rl.now().Add(rl.blockPeriod)
}

// Stop ends the cleanup loop and waits for it to exit.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.done
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	defer close(rl.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.removeExpired()
		}
	}
}

func (rl *RateLimiter) removeExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, blockedUntil := range rl.blockedIPs {
		if now.After(blockedUntil) {
			delete(rl.blockedIPs, ip)
		}
	}
}

// GetRealIP extracts the real client IP from a request, handling proxies and Cloudflare
func GetRealIP(c *gin.Context) string {
	// Priority: CF-Connecting-IP, True-Client-IP, X-Real-IP, first X-Forwarded-For, RemoteAddr.
	for _, header := range []string{"CF-Connecting-IP", "True-Client-IP", "X-Real-IP"} {
		if ip := parseIP(c.GetHeader(header)); ip != "" {
			return ip
		}
	}

	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}

	return parseIP(c.ClientIP())
}

// parseIP validates and extracts an IP address, stripping port if present
func parseIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	if host, _, err := net.SplitHostPort(ipStr); err == nil {
		ipStr = host
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ""
	}

	return ip.String()
}

func logFailedAuth(log *zap.Logger, ip, reason string, blocked bool) {
	log.Warn("authentication failed",
		zap.String("ip", ip),
		zap.String("reason", reason),
		zap.Bool("blocked", blocked),
	)
}

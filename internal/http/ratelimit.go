package http

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLoginPerMinute caps login attempts per client address.
const DefaultLoginPerMinute = 10

// LoginLimiter throttles login attempts per client address using a Redis
// backed GCRA limiter shared by every instance.
//
// The client address is the peer address unless the peer is a trusted proxy,
// in which case X-Forwarded-For is walked from the right and the first
// untrusted hop is used.
type LoginLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	trusted []*net.IPNet
	logger  *zap.Logger
}

// LimiterOption configures a LoginLimiter.
type LimiterOption func(*LoginLimiter)

// WithTrustedProxies honours X-Forwarded-For from peers inside nets.
func WithTrustedProxies(nets []*net.IPNet) LimiterOption {
	return func(l *LoginLimiter) { l.trusted = nets }
}

// ParseTrustedProxies accepts CIDRs and bare IP addresses.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", e)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", e, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func NewLoginLimiter(client redis.UniversalClient, perMinute int, logger *zap.Logger, opts ...LimiterOption) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = DefaultLoginPerMinute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &LoginLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerMinute(perMinute),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware answers 429 once a client exceeds the limit. When Redis cannot
// be reached the request is let through.
func (l *LoginLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "login:" + l.clientIP(r)
		res, err := l.limiter.Allow(r.Context(), key, l.limit)
		if err != nil {
			l.logger.Warn("Rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit.Rate))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed == 0 {
			retry := int(res.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limited",
				"message": "Too many login attempts",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *LoginLimiter) isTrusted(ip net.IP) bool {
	for _, n := range l.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (l *LoginLimiter) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil || !l.isTrusted(ip) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		hopIP := net.ParseIP(hop)
		if hopIP == nil {
			// A malformed entry ends the chain we can vouch for.
			return peer
		}
		if !l.isTrusted(hopIP) {
			return hop
		}
		peer = hop
	}
	return peer
}

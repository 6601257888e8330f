package lim

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"markpaste/svc/util"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	adaptiveFor     = 60 * time.Second
)

type Config struct {
	CreateQuota    int
	CreateWindow   time.Duration
	RPM            int
	Burst          int
	TrustedProxies []string
}

// Limiter guards the HTTP boundary: a fixed-window quota for creation and a
// per-address token bucket for reads and tracking.
type Limiter struct {
	quota             *Quota
	trusted           []*net.IPNet
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	readers           map[string]*limiterEntry
	mu                sync.Mutex
	rpm               int
	burst             int
	quit              chan struct{}
	stopOnce          sync.Once
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(c Config) (*Limiter, error) {
	trusted, err := ParseTrusted(c.TrustedProxies)
	if err != nil {
		return nil, err
	}
	l := &Limiter{
		quota:   NewQuota(c.CreateQuota, c.CreateWindow),
		trusted: trusted,
		readers: make(map[string]*limiterEntry),
		rpm:     c.RPM,
		burst:   c.Burst,
		quit:    make(chan struct{}),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.cleanupLoop()
	return l, nil
}

// ParseTrusted turns IPs and CIDRs into networks. A bare IP becomes a
// single-host network.
func ParseTrusted(proxies []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, proxy := range proxies {
		if strings.Contains(proxy, "/") {
			_, n, err := net.ParseCIDR(proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR in trusted proxies: %s: %w", proxy, err)
			}
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(proxy)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP in trusted proxies: %s", proxy)
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now())
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) evictIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for key, entry := range l.readers {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.readers, key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", len(l.readers)).Msg("rate limiter cleanup")
	}
	return evicted
}
// evictOldest drops the count entries with the oldest lastAccess. Caller
// holds l.mu.
func (l *Limiter) evictOldest(count int) int {
	type kv struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]kv, 0, len(l.readers))
	for k, v := range l.readers {
		entries = append(entries, kv{k, v.lastAccess})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		delete(l.readers, entries[i].key)
		evicted++
	}
	return evicted
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
		l.quota.Stop()
	})
}
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(adaptiveFor).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	until := atomic.LoadInt64(&l.adaptiveModeUntil)
	return time.Now().Unix() < until
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

// ClientIP resolves the address requests are keyed by.
func (l *Limiter) ClientIP(r *http.Request) string {
	return GetRealIP(r, l.trusted)
}

// CheckCreate applies the creation quota to addr.
func (l *Limiter) CheckCreate(addr string) *RateLimitResult {
	s := l.quota.Take(addr)
	return &RateLimitResult{Allowed: s.Allowed, Limit: s.Limit, Remaining: s.Remaining, Reset: s.Reset}
}

// CheckRead takes one token from addr's bucket. The bucket is sized at half
// capacity while adaptive mode is on.
func (l *Limiter) CheckRead(addr string) *RateLimitResult {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, exists := l.readers[addr]
	if !exists {
		if len(l.readers) >= maxLimiters {
			evicted := l.evictOldest(maxLimiters / 10)
			util.Warn().
				Int("evicted", evicted).
				Str("ip", util.RedactIP(addr)).
				Msg("rate limiter at capacity, evicted least recently used")
		}
		rpm, burst := l.rpm, l.burst
		if l.isAdaptiveMode() {
			rpm, burst = halve(rpm), halve(burst)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
		l.readers[addr] = entry
	}
	entry.lastAccess = now
	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     entry.limiter.Burst(),
		Remaining: remaining,
		Reset:     now.Add(time.Minute),
	}
}
func halve(n int) int {
	n /= 2
	if n < 1 {
		return 1
	}
	return n
}

// GetRealIP returns the peer address, or when the peer is a trusted proxy
// the right-most untrusted hop of X-Forwarded-For.
func GetRealIP(r *http.Request, trusted []*net.IPNet) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trusted) == 0 || !isTrusted(remoteIP, trusted) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	const maxIPsToParse = 100
	parsed := 0
	remaining := xff
	for len(remaining) > 0 && parsed < maxIPsToParse {
		var hop string
		if i := strings.LastIndexByte(remaining, ','); i == -1 {
			hop, remaining = strings.TrimSpace(remaining), ""
		} else {
			hop, remaining = strings.TrimSpace(remaining[i+1:]), remaining[:i]
		}
		if hop == "" {
			continue
		}
		parsed++
		if net.ParseIP(hop) == nil {
			util.Warn().Str("ip", util.RedactIP(hop)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
	}
	if parsed >= maxIPsToParse {
		util.Warn().Int("parsed", parsed).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}
func isTrusted(ip string, trusted []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

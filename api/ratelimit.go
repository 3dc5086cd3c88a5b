package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backoffPolicy configures a backoffLimiter.
type backoffPolicy struct {
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	// expiry is how long after the last failure a record is forgotten.
	expiry time.Duration
}

var (
	// loginIPPolicy limits failed credential exchanges per client IP.
	loginIPPolicy = backoffPolicy{
		maxFailures: 20,
		baseLockout: 1 * time.Minute,
		maxLockout:  30 * time.Minute,
		expiry:      1 * time.Hour,
	}
	// adminIPPolicy limits bad admin key presentations per client IP.
	adminIPPolicy = backoffPolicy{
		maxFailures: 5,
		baseLockout: 5 * time.Minute,
		maxLockout:  1 * time.Hour,
		expiry:      1 * time.Hour,
	}
)

// sweepThreshold is the record count above which recordFailure drops
// expired entries.
const sweepThreshold = 10000

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// backoffLimiter tracks failures per key and enforces exponential backoff
// once the policy's failure budget is spent.
type backoffLimiter struct {
	mu       sync.Mutex
	policy   backoffPolicy
	attempts map[string]*attemptRecord
	now      func() time.Time
}

func newBackoffLimiter(policy backoffPolicy) *backoffLimiter {
	return &backoffLimiter{
		policy:   policy,
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// check reports whether key is locked out and for how long.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.attempts) > sweepThreshold {
		rl.sweepLocked(now)
	}

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.policy.maxFailures {
		// baseLockout * 2^(failures - maxFailures), capped.
		lockout := rl.policy.baseLockout
		for i := rl.policy.maxFailures; i < rec.failures; i++ {
			lockout *= 2
			if lockout >= rl.policy.maxLockout {
				lockout = rl.policy.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweepLocked(rl.now())
}

func (rl *backoffLimiter) sweepLocked(now time.Time) {
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute
)

// globalRateLimiter tracks failed logins across all clients in a sliding
// window so a distributed guessing run is throttled too.
type globalRateLimiter struct {
	mu          sync.Mutex
	failures    []time.Time
	lockedUntil time.Time
	now         func() time.Time
}

func newGlobalRateLimiter() *globalRateLimiter {
	return &globalRateLimiter{now: time.Now}
}

func (rl *globalRateLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *globalRateLimiter) recordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.failures = trimWindow(append(rl.failures, now), now, globalWindow)
	if len(rl.failures) >= globalMaxFailures {
		rl.lockedUntil = now.Add(globalLockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many failed attempts; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP returns the caller's address using the configured trusted
// proxies.
func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers are honored only when the direct peer falls inside one of
// trustedProxies. With no trusted proxies RemoteAddr is always used.
//
// Priority when the peer is trusted:
//  1. First valid entry in X-Forwarded-For
//  2. First valid "for=" value in Forwarded
//  3. X-Real-IP
//  4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for part := range strings.SplitSeq(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}
	if ip, ok := forwardedFor(r.Header.Get("Forwarded")); ok {
		return ip
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

func peerTrusted(remoteIP string, trustedProxies []netip.Prefix) bool {
	if len(trustedProxies) == 0 || remoteIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedFor returns the first valid for= address of an RFC 7239
// Forwarded header.
func forwardedFor(header string) (string, bool) {
	for elem := range strings.SplitSeq(header, ",") {
		for param := range strings.SplitSeq(elem, ";") {
			param = strings.TrimSpace(param)
			if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
				continue
			}
			if ip, ok := parseIPCandidate(param[4:]); ok {
				return ip, true
			}
		}
	}
	return "", false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	// Forms like [::1]:1234 or 10.0.0.1:80.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}

// ParseTrustedProxies parses CIDR ranges or bare addresses into prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

package access

import (
	"sync"
	"time"
)

// codeRateLimiter tracks failed one-time-code attempts per actor and
// enforces exponential lockout, so sensitive-field decryption cannot be
// brute-forced through the 6-digit code space.
type codeRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxCodeFailures is the number of consecutive failures before
	// lockout begins.
	maxCodeFailures = 5
	// baseLockout is the initial lockout duration.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the
	// record is garbage-collected.
	attemptExpiry = 1 * time.Hour
)

func newCodeRateLimiter() *codeRateLimiter {
	return &codeRateLimiter{attempts: make(map[string]*attemptRecord)}
}

// check returns whether the actor is currently locked out, along with
// how long to wait. A zero duration means the attempt may proceed.
func (rl *codeRateLimiter) check(actorID string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[actorID]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, actorID)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// lockout once maxCodeFailures is exceeded.
func (rl *codeRateLimiter) recordFailure(actorID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[actorID]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[actorID] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= maxCodeFailures {
		shift := rec.failures - maxCodeFailures
		lockout := baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// recordSuccess clears the actor's failure history.
func (rl *codeRateLimiter) recordSuccess(actorID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, actorID)
}

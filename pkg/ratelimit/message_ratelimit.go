package ratelimit

import (
	"sync"
	"time"
)

// messageBucket is in one of two modes: counting inside a window, or cooling
// down until cooldownUntil.
type messageBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero when not cooling down
}

// MessageRateLimiter throttles message posting per user. Exceeding
// maxMessages inside window starts a cooldown during which every post is
// rejected; after it the window starts over.
//
// Compared to KeyAttemptLimiter:
//   - The key is the authenticated user id, not the client IP.
//   - The window and the penalty differ. With 5 per 5s and a 15s cooldown,
//     the 6th post inside 5s locks the user out for 15s, even though the
//     window itself would have rolled over after 5s.
//   - Rejected posts during a cooldown do not extend it.
//
// Room posts and private messages share one limiter, so a user cannot double
// their budget by switching between the two.
//
//	limiter := NewMessageRateLimiter(5, 5*time.Second, 15*time.Second)
//	if !limiter.Allow(userID) { return 429 }
type MessageRateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*messageBucket // userID -> bucket

	maxMessages int           // per window; <= 0 disables the limiter
	window      time.Duration // counting window
	cooldown    time.Duration // penalty once the window is exceeded

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewMessageRateLimiter creates the limiter and starts its cleanup loop.
// A maxMessages of zero or less disables limiting.
func NewMessageRateLimiter(maxMessages int, window, cooldown time.Duration) *MessageRateLimiter {
	rl := &MessageRateLimiter{
		buckets:     make(map[string]*messageBucket),
		maxMessages: maxMessages,
		window:      window,
		cooldown:    cooldown,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow counts one message for userID and reports whether it may be posted.
func (rl *MessageRateLimiter) Allow(userID string) bool {
	if rl.maxMessages <= 0 {
		return true
	}
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[userID]
	if !exists {
		rl.buckets[userID] = &messageBucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() {
		if now.Before(b.cooldownUntil) {
			return false
		}
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	if now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	if b.count > rl.maxMessages {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}
	return true
}

// CooldownSeconds is the Retry-After value for userID, 0 when not limited.
func (rl *MessageRateLimiter) CooldownSeconds(userID string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[userID]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}

	remaining := time.Until(b.cooldownUntil)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Close stops the cleanup loop.
func (rl *MessageRateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *MessageRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup keeps buckets that are still cooling down.
func (rl *MessageRateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)
		if windowExpired && cooldownExpired {
			delete(rl.buckets, userID)
		}
	}
}

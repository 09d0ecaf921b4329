// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ratelimit implements the authentication attempt throttle.

Unlike the coarse per-IP token bucket in the middleware chain, this limiter
enforces two independent rules per key (an account name or a client host)
and punishes violations with a fixed block window:

  - A minimum gap between consecutive attempts.
  - A maximum number of attempts per minute.

Violating either rule blocks the key for a configured duration. While a key
is blocked, further attempts are refused with the remaining wait and do not
extend the block.
*/
package ratelimit

import (
	"sync"
	"time"
)

// # Configuration

// Config holds the throttle policy for one limiter instance.
type Config struct {
	// MaxPerMinute caps attempts within a sliding one-minute window.
	// Zero disables the cap.
	MaxPerMinute int

	// MinimumGap is the required pause between consecutive attempts.
	// Zero disables the gap check.
	MinimumGap time.Duration

	// BlockFor is how long a key stays blocked after violating a rule.
	BlockFor time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = time.Minute
	}
}

// # Verdicts

// Reason explains why an attempt was refused.
type Reason int

const (
	ReasonAllowed Reason = iota
	ReasonBlocked
	ReasonMinimumGap
	ReasonTooManyPerMinute
)

// String returns the reason name for logs.
func (reason Reason) String() string {
	switch reason {
	case ReasonAllowed:
		return "allowed"
	case ReasonBlocked:
		return "blocked"
	case ReasonMinimumGap:
		return "minimum_gap"
	case ReasonTooManyPerMinute:
		return "too_many_per_minute"
	default:
		return "unknown"
	}
}

// Info accompanies every verdict.
type Info struct {
	// Reason is ReasonAllowed for accepted attempts.
	Reason Reason

	// RetryAfter is how long the caller must wait before the next attempt
	// can succeed. Zero for accepted attempts.
	RetryAfter time.Duration
}

// # Limiter

type entry struct {
	lastAttempt  time.Time
	windowStart  time.Time
	count        int
	blockedUntil time.Time
}

// Control tracks attempt timing per key.
type Control struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
}

// New creates a limiter with the given policy.
func New(cfg Config) *Control {
	cfg.applyDefaults()
	return &Control{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Allow records an attempt for the key and returns whether it may proceed.
//
// While a key is blocked the remaining wait shrinks monotonically: refused
// attempts during the block neither extend it nor count against the next
// window.
func (control *Control) Allow(key string) (bool, Info) {
	now := time.Now()

	control.mu.Lock()
	defer control.mu.Unlock()

	tracked, found := control.entries[key]
	if !found {
		tracked = &entry{windowStart: now}
		control.entries[key] = tracked
	}

	// 1. An active block refuses the attempt with the remaining wait
	if !tracked.blockedUntil.IsZero() {
		if now.Before(tracked.blockedUntil) {
			return false, Info{
				Reason:     ReasonBlocked,
				RetryAfter: tracked.blockedUntil.Sub(now),
			}
		}
		// Block expired: the key starts over with a clean slate.
		*tracked = entry{windowStart: now}
	}

	// 2. Enforce the minimum gap between attempts
	if control.cfg.MinimumGap > 0 && !tracked.lastAttempt.IsZero() {
		if now.Sub(tracked.lastAttempt) < control.cfg.MinimumGap {
			tracked.blockedUntil = now.Add(control.cfg.BlockFor)
			return false, Info{
				Reason:     ReasonMinimumGap,
				RetryAfter: control.cfg.BlockFor,
			}
		}
	}

	// 3. Enforce the per-minute cap
	if now.Sub(tracked.windowStart) >= time.Minute {
		tracked.windowStart = now
		tracked.count = 0
	}
	tracked.count++
	if control.cfg.MaxPerMinute > 0 && tracked.count > control.cfg.MaxPerMinute {
		tracked.blockedUntil = now.Add(control.cfg.BlockFor)
		return false, Info{
			Reason:     ReasonTooManyPerMinute,
			RetryAfter: control.cfg.BlockFor,
		}
	}

	tracked.lastAttempt = now
	return true, Info{Reason: ReasonAllowed}
}

// Purge drops keys that have been idle longer than the given duration and
// are no longer blocked. Returns the number of keys removed.
func (control *Control) Purge(idleFor time.Duration) int {
	now := time.Now()

	control.mu.Lock()
	defer control.mu.Unlock()

	removed := 0
	for key, tracked := range control.entries {
		if now.Before(tracked.blockedUntil) {
			continue
		}
		reference := tracked.lastAttempt
		if reference.IsZero() {
			reference = tracked.windowStart
		}
		if now.Sub(reference) >= idleFor {
			delete(control.entries, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked keys.
func (control *Control) Len() int {
	control.mu.Lock()
	defer control.mu.Unlock()
	return len(control.entries)
}

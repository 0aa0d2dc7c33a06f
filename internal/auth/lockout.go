// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import "time"

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that
	// locks an account.
	DefaultLockoutThreshold = 7

	// DefaultLockoutDuration is how long a locked account stays locked.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutPolicy decides when repeated login failures lock an account.
// A zero Threshold disables lockout.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Enabled reports whether failures are counted at all.
func (p LockoutPolicy) Enabled() bool {
	return p.Threshold > 0
}

// ComputeLockoutTime returns the lockout timestamp for the given failure
// count, or nil if failures is below the threshold.
func (p LockoutPolicy) ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if !p.Enabled() || failures < p.Threshold {
		return nil
	}
	lockout := now.Add(p.Duration)
	return &lockout
}

// IsLockedOut returns true if the lockout time is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// LockoutRemaining returns the time until the lockout expires, or zero.
func LockoutRemaining(lockedUntil *time.Time, now time.Time) time.Duration {
	if !IsLockedOut(lockedUntil, now) {
		return 0
	}
	return lockedUntil.Sub(now)
}

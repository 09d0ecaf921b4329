// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/restgate/internal/ratelimit"
)

/*
TestControl_PerMinuteCap verifies that the cap refuses the attempt after the
limit and that the refusal carries the block duration.
*/
func TestControl_PerMinuteCap(t *testing.T) {
	control := ratelimit.New(ratelimit.Config{
		MaxPerMinute: 10,
		BlockFor:     80 * time.Millisecond,
	})

	for i := 0; i < 10; i++ {
		ok, info := control.Allow("alice")
		require.True(t, ok, "attempt %d should pass", i+1)
		require.Equal(t, ratelimit.ReasonAllowed, info.Reason)
	}

	ok, info := control.Allow("alice")
	assert.False(t, ok)
	assert.Equal(t, ratelimit.ReasonTooManyPerMinute, info.Reason)
	assert.Equal(t, 80*time.Millisecond, info.RetryAfter)
}

/*
TestControl_MinimumGap verifies that a too-quick second attempt starts a
block.
*/
func TestControl_MinimumGap(t *testing.T) {
	control := ratelimit.New(ratelimit.Config{
		MinimumGap: 50 * time.Millisecond,
		BlockFor:   80 * time.Millisecond,
	})

	ok, _ := control.Allow("alice")
	require.True(t, ok)

	ok, info := control.Allow("alice")
	assert.False(t, ok)
	assert.Equal(t, ratelimit.ReasonMinimumGap, info.Reason)
}

/*
TestControl_BlockIsMonotonic verifies that attempts during a block see a
non-increasing remaining wait and never extend the block.
*/
func TestControl_BlockIsMonotonic(t *testing.T) {
	control := ratelimit.New(ratelimit.Config{
		MaxPerMinute: 1,
		BlockFor:     100 * time.Millisecond,
	})

	_, _ = control.Allow("alice")
	ok, first := control.Allow("alice")
	require.False(t, ok)

	previous := first.RetryAfter
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		ok, info := control.Allow("alice")
		require.False(t, ok)
		require.Equal(t, ratelimit.ReasonBlocked, info.Reason)
		assert.LessOrEqual(t, info.RetryAfter, previous, "remaining wait must shrink")
		previous = info.RetryAfter
	}
}

/*
TestControl_BlockExpiryResets verifies that a key starts over cleanly once
its block elapses.
*/
func TestControl_BlockExpiryResets(t *testing.T) {
	control := ratelimit.New(ratelimit.Config{
		MaxPerMinute: 1,
		MinimumGap:   10 * time.Millisecond,
		BlockFor:     40 * time.Millisecond,
	})

	_, _ = control.Allow("alice")
	ok, _ := control.Allow("alice")
	require.False(t, ok)

	time.Sleep(50 * time.Millisecond)

	// The first attempt after expiry passes; neither the gap nor the old
	// window count holds it back.
	ok, info := control.Allow("alice")
	assert.True(t, ok)
	assert.Equal(t, ratelimit.ReasonAllowed, info.Reason)
}

/*
TestControl_KeysAreIndependent verifies that one key's block does not affect
another.
*/
func TestControl_KeysAreIndependent(t *testing.T) {
	control := ratelimit.New(ratelimit.Config{
		MaxPerMinute: 1,
		BlockFor:     time.Minute,
	})

	_, _ = control.Allow("alice")
	ok, _ := control.Allow("alice")
	require.False(t, ok)

	ok, _ = control.Allow("bob")
	assert.True(t, ok)
}

/*
TestControl_Purge verifies idle key cleanup keeps blocked keys.
*/
func TestControl_Purge(t *testing.T) {
	control := ratelimit.New(ratelimit.Config{
		MaxPerMinute: 1,
		BlockFor:     time.Minute,
	})

	_, _ = control.Allow("idle")
	_, _ = control.Allow("hot")
	_, _ = control.Allow("hot") // blocks "hot" for a minute
	require.Equal(t, 2, control.Len())

	time.Sleep(20 * time.Millisecond)

	removed := control.Purge(10 * time.Millisecond)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, control.Len())

	// The blocked key is still refused after the purge.
	ok, info := control.Allow("hot")
	assert.False(t, ok)
	assert.Equal(t, ratelimit.ReasonBlocked, info.Reason)
}

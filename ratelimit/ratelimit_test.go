// Copyright (c) Session Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tcpAddr(ip string) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 12345}
}

func TestIPRateLimiterBurst(t *testing.T) {
	l := NewIPRateLimiter(1, 3, time.Minute)
	defer l.Stop()

	addr := tcpAddr("192.0.2.1")
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(addr), "attempt %d within burst", i)
	}
	assert.False(t, l.Allow(addr), "attempt beyond burst")
}

func TestIPRateLimiterPerIP(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow(tcpAddr("192.0.2.1")))
	assert.False(t, l.Allow(tcpAddr("192.0.2.1")))
	// A different IP has its own budget.
	assert.True(t, l.Allow(tcpAddr("192.0.2.2")))
}

func TestIPRateLimiterNilAddr(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow(nil))
}

func TestUserRateLimiter(t *testing.T) {
	l := NewUserRateLimiter(1, 2)

	assert.True(t, l.AllowMessage("u1"))
	assert.True(t, l.AllowMessage("u1"))
	assert.False(t, l.AllowMessage("u1"))
	assert.True(t, l.AllowMessage("u2"))
}

func TestUserRateLimiterForget(t *testing.T) {
	l := NewUserRateLimiter(1, 1)

	assert.True(t, l.AllowMessage("u1"))
	assert.False(t, l.AllowMessage("u1"))

	l.Forget("u1")
	assert.True(t, l.AllowMessage("u1"), "budget resets after forget")
}

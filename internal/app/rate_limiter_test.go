package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJoinRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewJoinRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per user")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("alice"), "window slides")
}

func TestJoinRateLimiter_Disabled(t *testing.T) {
	var rl *JoinRateLimiter
	assert.True(t, rl.Allow("alice"))
	assert.True(t, NewJoinRateLimiter(0, time.Minute).Allow("alice"))
}

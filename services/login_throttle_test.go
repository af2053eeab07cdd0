package services

import (
	"context"
	"testing"

	"smm-telegram/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownSecondsForFailCount(t *testing.T) {
	tests := []struct {
		failCount int
		want      int
	}{
		{-1, 1},
		{0, 1},
		{1, 2},
		{2, 4},
		{3, 8},
		{4, 16},
		{5, 30}, // 2^5=32 -> cap 30
		{6, 30},
		{10, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CooldownSecondsForFailCount(tt.failCount), "fail count %d", tt.failCount)
	}
}

// Integration test for the throttle (requires DB). Skip if db.Pool is nil or -short.
func TestLoginThrottle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throttle integration test in short mode")
	}
	if db.Pool == nil {
		t.Skip("skipping throttle integration test: no DB pool")
	}
	ctx := context.Background()
	const testUserID int64 = 999999997
	th := NewLoginThrottle(db.Pool)
	defer func() { _ = th.Succeeded(ctx, testUserID) }()

	require.NoError(t, th.Succeeded(ctx, testUserID))
	wait, err := th.WaitSeconds(ctx, testUserID)
	require.NoError(t, err)
	assert.Zero(t, wait)

	got, err := th.Failed(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	wait, err = th.WaitSeconds(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, wait >= 1 && wait <= 3, "wait %d", wait)

	got, err = th.Failed(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, 4, got)

	require.NoError(t, th.Succeeded(ctx, testUserID))
	wait, err = th.WaitSeconds(ctx, testUserID)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/brick-focus/internal/model"
)

func boolp(b bool) *bool { return &b }
func intp(i int) *int    { return &i }

func TestNextFocusLockWithTimer(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)
	cur := model.Unlocked("a", t0.Add(-time.Hour))

	next, ok, err := NextFocus(cur, model.FocusPatch{Locked: true, TimerDurationSeconds: intp(1500)}, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, next.Validate())
	assert.Equal(t, storeTime(t0), next.LastUpdated)
	assert.Equal(t, storeTime(t0), *next.LockStartedAt)
	assert.Equal(t, storeTime(t0).Add(1500*time.Second), *next.TimerEndAt)
}

func TestNextFocusUnlockIsIdempotent(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cur := model.Unlocked("a", t0)

	next, ok, err := NextFocus(cur, model.FocusPatch{Locked: false}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, next.Equal(cur))
}

func TestNextFocusPrecondition(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	locked, _, err := NextFocus(model.Unlocked("a", t0), model.FocusPatch{Locked: true}, t0)
	require.NoError(t, err)

	// a toggler that still believes the record is unlocked loses
	_, _, err = NextFocus(locked, model.FocusPatch{Locked: true, IfLocked: boolp(false)}, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrStaleWrite)

	// an expiry for an older lock must not end the current one
	old := t0.Add(-time.Hour)
	_, _, err = NextFocus(locked, model.FocusPatch{Locked: false, IfLockStartedAt: &old}, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrStaleWrite)

	next, ok, err := NextFocus(locked, model.FocusPatch{Locked: false, IfLockStartedAt: locked.LockStartedAt}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, next.Locked)
	require.NoError(t, next.Validate())
}

func TestNextFocusTimestampStrictlyIncreases(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cur := model.Unlocked("a", t0)

	// store clock went backwards
	next, ok, err := NextFocus(cur, model.FocusPatch{Locked: true}, t0.Add(-time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.LastUpdated.After(cur.LastUpdated))
}

package shield

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/brick-focus/internal/model"
)

type memShield struct {
	shielded *Selection
}

func (m *memShield) Available() bool { return true }

func (m *memShield) Shield(_ context.Context, sel Selection) error {
	m.shielded = &sel
	return nil
}

func (m *memShield) Unshield(context.Context) error {
	m.shielded = nil
	return nil
}

func selection(n int) Selection {
	var s Selection
	for i := 0; i < n; i++ {
		s.Apps = append(s.Apps, fmt.Sprintf("app.%d", i))
	}
	return s
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	m := &memShield{}

	require.NoError(t, Apply(ctx, m, true, selection(MaxShieldedItems)))
	require.NotNil(t, m.shielded)
	assert.Equal(t, MaxShieldedItems, m.shielded.Count())

	require.NoError(t, Apply(ctx, m, false, Selection{}))
	assert.Nil(t, m.shielded)

	assert.ErrorIs(t, Apply(ctx, m, true, selection(MaxShieldedItems+1)), ErrTooManyItems)
	assert.Nil(t, m.shielded)
}

func TestUnavailableVariants(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core).Sugar()
	ctx := context.Background()

	s := UnavailableShield{Log: log}
	assert.False(t, s.Available())
	assert.NoError(t, Apply(ctx, s, true, selection(3)))
	assert.NoError(t, Apply(ctx, s, false, Selection{}))

	n := UnavailableNFC{Log: log}
	assert.False(t, n.Available())
	_, err := n.Scan(ctx)
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)

	assert.Equal(t, 3, logs.Len(), "every skipped operation is logged")

	d := 1500
	assert.NoError(t, LogNotifier{Log: log}.Completed(ctx, model.FocusRecord{TimerDurationSeconds: &d}))
	assert.Equal(t, 1, logs.FilterMessage("focus session complete").Len())
}

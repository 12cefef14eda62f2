// Package shield declares the device capabilities some clients have and
// others lack: app shielding, NFC tags and a completion notifier.  Each
// comes with an Unavailable variant that logs and does nothing, so callers
// never branch on the platform.
package shield

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/model"
)

// MaxShieldedItems caps apps plus categories in one selection.
const MaxShieldedItems = 50

var (
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrTooManyItems          = fmt.Errorf("selection exceeds %d apps and categories", MaxShieldedItems)
)

// Selection is the user's choice of apps and app categories to shield.
type Selection struct {
	Apps       []string `json:"apps"`
	Categories []string `json:"categories"`
}

func (s Selection) Count() int { return len(s.Apps) + len(s.Categories) }

func (s Selection) Validate() error {
	if s.Count() > MaxShieldedItems {
		return ErrTooManyItems
	}
	return nil
}

// AppShield hides or blocks apps while focus mode is on.
type AppShield interface {
	Available() bool
	Shield(ctx context.Context, sel Selection) error
	Unshield(ctx context.Context) error
}

// NFCReader waits for a tag tap.  Scan blocks until a tag is read or ctx
// ends.
type NFCReader interface {
	Available() bool
	Scan(ctx context.Context) (tagID string, err error)
}

// Notifier tells the user a timed lock ran out.
type Notifier interface {
	Completed(ctx context.Context, rec model.FocusRecord) error
}

// Apply shields sel while locked and lifts the shield otherwise.
func Apply(ctx context.Context, s AppShield, locked bool, sel Selection) error {
	if !locked {
		return s.Unshield(ctx)
	}
	if err := sel.Validate(); err != nil {
		return err
	}
	return s.Shield(ctx, sel)
}

// UnavailableShield is the AppShield of a device without the capability.
type UnavailableShield struct{ Log *zap.SugaredLogger }

func (UnavailableShield) Available() bool { return false }

func (u UnavailableShield) Shield(_ context.Context, sel Selection) error {
	logf(u.Log, "app shield unavailable, skipping", "items", sel.Count())
	return nil
}

func (u UnavailableShield) Unshield(context.Context) error {
	logf(u.Log, "app shield unavailable, nothing to lift")
	return nil
}

// UnavailableNFC never produces a tag.
type UnavailableNFC struct{ Log *zap.SugaredLogger }

func (UnavailableNFC) Available() bool { return false }

func (u UnavailableNFC) Scan(context.Context) (string, error) {
	logf(u.Log, "nfc unavailable")
	return "", ErrCapabilityUnavailable
}

// LogNotifier reports completion through the log; it stands in for the
// mobile vibration pattern on devices that have none.
type LogNotifier struct{ Log *zap.SugaredLogger }

func (n LogNotifier) Completed(_ context.Context, rec model.FocusRecord) error {
	if n.Log == nil {
		return nil
	}
	secs := 0
	if rec.TimerDurationSeconds != nil {
		secs = *rec.TimerDurationSeconds
	}
	n.Log.Infow("focus session complete", "duration_s", secs)
	return nil
}

func logf(log *zap.SugaredLogger, msg string, kv ...any) {
	if log != nil {
		log.Debugw(msg, kv...)
	}
}

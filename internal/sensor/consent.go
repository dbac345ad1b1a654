package sensor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/banshee-data/accel.relay/internal/monitoring"
	"github.com/banshee-data/accel.relay/internal/timeutil"
)

// ConsentGate decides whether a client may read a sensor.
type ConsentGate interface {
	WaitForConsent(ctx context.Context, t Type) bool
}

// StaticConsent answers every request the same way.
type StaticConsent bool

func (s StaticConsent) WaitForConsent(ctx context.Context, _ Type) bool {
	return bool(s) && ctx.Err() == nil
}

// DefaultConsentPoll is how often FileConsent checks for its marker.
const DefaultConsentPoll = 250 * time.Millisecond

// FileConsent grants access once a marker file exists. An operator grants
// consent by creating the file; the wait blocks until then or until ctx is
// cancelled.
type FileConsent struct {
	Path     string
	Interval time.Duration
	Clock    timeutil.Clock
}

func (f *FileConsent) WaitForConsent(ctx context.Context, t Type) bool {
	if f.granted() {
		return ctx.Err() == nil
	}

	clock := f.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultConsentPoll
	}

	monitoring.Logger("consent").WithField("sensor", t).Infof("waiting for consent marker %s", f.Path)
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C():
			if f.granted() {
				return ctx.Err() == nil
			}
		}
	}
}

func (f *FileConsent) granted() bool {
	_, err := os.Stat(f.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		monitoring.Logger("consent").WithError(err).Warn("consent marker unreadable")
	}
	return err == nil
}

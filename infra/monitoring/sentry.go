// Package monitoring implements the error tracker on top of Sentry.
package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/fueltrack/config"
	coremon "github.com/kilianp07/fueltrack/core/monitoring"
)

// NewSentryMonitor initializes Sentry from cfg. An empty DSN yields a
// NopMonitor.
func NewSentryMonitor(cfg config.SentryConfig) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{hub: sentry.CurrentHub()}, nil
}

type sentryMonitor struct {
	hub *sentry.Hub
}

// CaptureException sends err with tags. Faults of the same operation and
// class are grouped into one issue regardless of the vehicle.
func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if fp := fingerprint(tags); fp != nil {
			scope.SetFingerprint(fp)
		}
		s.hub.CaptureException(err)
	})
}

func fingerprint(tags map[string]string) []string {
	op, ok := tags["op"]
	if !ok {
		return nil
	}
	fp := []string{op}
	if class := tags["class"]; class != "" {
		fp = append(fp, class)
	}
	if module := tags["module"]; module != "" {
		fp = append(fp, module)
	}
	return fp
}

func (s *sentryMonitor) Recover() {
	if r := recover(); r != nil {
		s.hub.Recover(r)
		s.hub.Flush(2 * time.Second)
		panic(r)
	}
}

func (s *sentryMonitor) Flush(timeout time.Duration) { s.hub.Flush(timeout) }

// Package telemetry reports categorized errors to Sentry. Reporting is
// opt-in and every event passes through privacy scrubbing before leaving
// the process.
package telemetry

import (
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/logging"
)

var initialized bool

// Init configures the Sentry SDK and installs the error reporter. A
// disabled block or an empty DSN leaves telemetry off entirely.
func Init(settings *conf.Settings, version string) error {
	if !settings.Sentry.Enabled || settings.Sentry.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		Release:          "hyescribe@" + version,
		Environment:      settings.Sentry.Environment,
		AttachStacktrace: true,
		SampleRate:       1.0,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	initialized = true
	errors.SetTelemetryReporter(&reporter{})
	logging.Info("sentry telemetry enabled", "environment", settings.Sentry.Environment)
	return nil
}

// Flush drains pending events; call on shutdown.
func Flush(timeout time.Duration) {
	if initialized {
		sentry.Flush(timeout)
	}
}

// reporter adapts Sentry to the error package's reporting hook.
type reporter struct{}

func (r *reporter) ReportError(ee *errors.EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", ee.GetCategory())
		for k, v := range ee.GetContext() {
			scope.SetExtra(k, v)
		}
		scope.SetLevel(sentry.LevelError)

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = scrubMessage(ee.GetMessage())
		event.Exception = []sentry.Exception{{
			Type:  ee.GetCategory(),
			Value: scrubMessage(ee.Error()),
		}}
		sentry.CaptureEvent(event)
	})
}

var (
	// Filesystem paths and URLs with credentials leak job content and
	// account details; strip both before an event leaves the process.
	pathRe       = regexp.MustCompile(`(/[\w./-]+){2,}`)
	credentialRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^@\s]+@`)
)

func scrubMessage(msg string) string {
	msg = credentialRe.ReplaceAllString(msg, "[scheme]://[redacted]@")
	return pathRe.ReplaceAllString(msg, "[path]")
}

func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	for i := range event.Exception {
		event.Exception[i].Value = scrubMessage(event.Exception[i].Value)
	}
	event.Message = scrubMessage(event.Message)
	return event
}

package errors

import "sync/atomic"

// TelemetryReporter receives enhanced errors for out-of-band reporting.
// The telemetry package installs its Sentry-backed implementation at startup;
// without one, Build() takes the cheap path and skips detection entirely.
type TelemetryReporter interface {
	ReportError(ee *EnhancedError)
}

var (
	telemetryReporter  atomic.Pointer[TelemetryReporter]
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter installs the global reporter. Passing nil disables
// reporting again.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		telemetryReporter.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	telemetryReporter.Store(&reporter)
	hasActiveReporting.Store(true)
}

// reportToTelemetry forwards the error to the installed reporter.
// Cancellations and validation failures are user behavior, not defects,
// so they never leave the process.
func reportToTelemetry(ee *EnhancedError) {
	if ee == nil || ee.IsReported() {
		return
	}
	switch ee.Category {
	case CategoryCancellation, CategoryValidation, CategoryNotFound:
		return
	}
	ptr := telemetryReporter.Load()
	if ptr == nil {
		return
	}
	(*ptr).ReportError(ee)
	ee.MarkReported()
}

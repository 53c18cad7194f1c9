package sanitize

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
)

// Reporter receives raw widget errors that never reach the UI
type Reporter interface {
	Report(ctx context.Context, widgetID string, err error)
}

// NopReporter discards errors
type NopReporter struct{}

// Report implements Reporter
func (NopReporter) Report(context.Context, string, error) {}

// SentryReporter forwards raw errors to Sentry, tagged with the widget id and error code
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter wraps hub. A nil hub uses the current global hub.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

// InitSentry configures the global Sentry client
func InitSentry(dsn, environment, release string) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return nil
}

// Report implements Reporter
func (r *SentryReporter) Report(ctx context.Context, widgetID string, err error) {
	hub := r.hub
	if ctxHub := sentry.GetHubFromContext(ctx); ctxHub != nil {
		hub = ctxHub
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("widget_id", widgetID)
		if code := aegiserrors.Code(err); code != "" {
			scope.SetTag("error_code", code)
		}
		hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be delivered
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

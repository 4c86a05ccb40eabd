// Package notify is the outbound email boundary. The pipeline treats it
// as fire-and-forget: a notification that cannot be sent is logged and
// dropped, never retried, and never fails the job that triggered it.
package notify

import "context"

// Notifier sends terminal-outcome emails to job owners.
type Notifier interface {
	Success(ctx context.Context, email, name, title string) error
	Failure(ctx context.Context, email, name string) error
}

// Noop discards all notifications. Used when SMTP is not configured and
// in tests that do not care about email.
type Noop struct{}

func (Noop) Success(context.Context, string, string, string) error { return nil }
func (Noop) Failure(context.Context, string, string) error         { return nil }

var _ Notifier = Noop{}

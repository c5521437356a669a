package ports

import "context"

// Notifier is the fire-and-forget messaging channel. Implementations must not
// return errors that abort trading actions; failures are logged internally.
type Notifier interface {
	// Notify sends a plain event message.
	Notify(ctx context.Context, text string)
	// NotifyEntry reports a position entry or add-on.
	NotifyEntry(ctx context.Context, text string)
	// NotifyExit reports a position close.
	NotifyExit(ctx context.Context, text string)
	// NotifyWarning reports a non-fatal problem.
	NotifyWarning(ctx context.Context, text string)
}

package engine

import (
	"context"
	"errors"

	"fleetmaint/internal/types"
)

// MultiNotifier fans one event out to several notifiers. Each notifier
// is attempted even when an earlier one fails; the errors are joined.
type MultiNotifier []Notifier

// Notify delivers the event to every notifier in order.
func (m MultiNotifier) Notify(ctx context.Context, event types.NotificationEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package notify stores in-app notifications.
//
// Notifier.LimitExceeded satisfies firms.LimitNotifier. Callers on the
// request path run it through async.SafeGo so that a failed notification
// never changes the response:
//
//	async.SafeGo(r.Context(), logger, 5*time.Second, "limit-notification", func(ctx context.Context) error {
//		return notifier.LimitExceeded(ctx, err.FirmID, err.Resource, err.Current, err.Limit)
//	})
package notify

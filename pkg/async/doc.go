// Package async runs background work with a bounded lifetime.
//
// SafeGo starts a goroutine with its own timeout, recovers panics and logs
// returned errors. Callers detach request work from the request context first:
//
//	async.SafeGo(context.WithoutCancel(r.Context()), logger, 2*time.Second, "session touch", func(ctx context.Context) error {
//		return sessions.Touch(ctx, sessionID, now)
//	})
package async

// Package shutdown runs cleanup hooks when a long-running nestkv command
// is asked to stop, either by SIGINT/SIGTERM or by its context ending.
//
// Usage:
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("store", func(ctx context.Context) error { _, err := db.Close(); return err })
//	err := h.Wait(ctx)
package shutdown

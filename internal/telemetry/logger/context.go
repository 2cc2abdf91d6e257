package logger

import "context"

type contextKey string

const (
	loggerKey  contextKey = "nestkv.logger"
	commandKey contextKey = "nestkv.command"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, or the default logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithCommand records the CLI command being run.
func WithCommand(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, commandKey, name)
}

// CommandFromContext returns the command set by WithCommand.
func CommandFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(commandKey).(string); ok {
		return name
	}
	return ""
}

// L returns the context logger tagged with the current command and bound
// to ctx.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if name := CommandFromContext(ctx); name != "" {
		l = l.With("command", name)
	}
	return l.WithContext(ctx)
}

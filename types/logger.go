package types

// Logger is the structured logger used throughout shardgate.
//
// Every method takes a message followed by alternating key/value pairs.
// *slog.Logger satisfies this interface directly; contrib/logging/zaplog adapts
// a *zap.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Package zaplog adapts a *zap.Logger to the shardgate Logger interface.
//
// Key/value pairs become zap fields: error values are logged with zap.Error
// semantics under their key, everything else through zap.Any. A dangling key
// without a value is logged under "!BADKEY".
//
//	logger, _ := zap.NewProduction()
//	router, _ := shardgate.New(layout,
//	    shardgate.WithLogger(zaplog.New(logger)),
//	)
package zaplog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arloliu/shardgate/types"
)

// Logger implements types.Logger on top of zap.
type Logger struct {
	z *zap.Logger
}

// Compile-time assertion that Logger implements types.Logger.
var _ types.Logger = (*Logger)(nil)

// New wraps z. A nil z yields a no-op logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}

	return &Logger{z: z.WithOptions(zap.AddCallerSkip(1))}
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Named returns a logger with name appended to the logger name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name)}
}

// With returns a logger that adds keysAndValues to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{z: l.z.With(fields(keysAndValues)...)}
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.z.Debug(msg, fields(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.z.Info(msg, fields(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.z.Warn(msg, fields(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.z.Error(msg, fields(keysAndValues)...)
}

func fields(kv []any) []zap.Field {
	if len(kv) == 0 {
		return nil
	}

	out := make([]zap.Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			out = append(out, zap.Any("!BADKEY", kv[i]))
			break
		}

		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}

		switch v := kv[i+1].(type) {
		case error:
			out = append(out, zap.NamedError(key, v))
		case fmt.Stringer:
			out = append(out, zap.Stringer(key, v))
		default:
			out = append(out, zap.Any(key, v))
		}
	}

	return out
}

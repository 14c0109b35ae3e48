// Package temporal bridges the Temporal SDK to the service's zap logger.
package temporal

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger routes SDK and workflow log calls to zap
type Logger struct {
	zl *zap.Logger
}

// NewLogger wraps zl for client.Options.Logger
func NewLogger(zl *zap.Logger) log.Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Logger{zl: zl.WithOptions(zap.AddCallerSkip(1))}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.zl.Debug(msg, fields(keyvals)...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.zl.Info(msg, fields(keyvals)...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.zl.Warn(msg, fields(keyvals)...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.zl.Error(msg, fields(keyvals)...) }

// With returns a logger carrying keyvals on every entry
func (l *Logger) With(keyvals ...interface{}) log.Logger {
	return &Logger{zl: l.zl.With(fields(keyvals)...)}
}

// fields pairs keyvals; a non-string key or a trailing key without value is kept under "extra"
func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2+1)
	var extra []interface{}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok || i+1 >= len(keyvals) {
			extra = append(extra, keyvals[i:min(i+2, len(keyvals))]...)
			continue
		}
		out = append(out, field(key, keyvals[i+1]))
	}
	if len(extra) > 0 {
		out = append(out, zap.String("extra", fmt.Sprint(extra...)))
	}
	return out
}

// field avoids zap.Any on kinds it cannot encode
func field(key string, val interface{}) (f zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			f = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()
	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return zap.String(key, fmt.Sprintf("<%T>", val))
	}
	if err, ok := val.(error); ok {
		return zap.NamedError(key, err)
	}
	return zap.Any(key, val)
}

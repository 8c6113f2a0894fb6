// Package logger builds the process-wide zap logger.  The logger is created
// once in main and passed down explicitly; nothing in the service reaches
// for a global.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// New builds a JSON logger controlled by environment variables:
//   - LOG_LEVEL=debug|info|warn|error (default info)
//   - LOG_TO_FILE=true, or LOG_FILE / LOG_DIR, add a rotating file sink
//   - LOG_MAX_SIZE_MB=100, LOG_MAX_BACKUPS=7, LOG_MAX_DAYS=14, LOG_COMPRESS=true
func New() *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.MessageKey = "msg"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	level := zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))
	enc := zapcore.NewJSONEncoder(encoderConfig)
	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
	}

	logToFile := strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_TO_FILE")), "true")
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	if dir := strings.TrimSpace(os.Getenv("LOG_DIR")); logFile == "" && dir != "" {
		logFile = filepath.Join(dir, "app.log")
	}
	if logToFile || logFile != "" {
		if logFile == "" {
			logFile = filepath.Join(".", "logs", "app.log")
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			// stdout only; a missing log dir must not stop the service
			_, _ = fmt.Fprintf(os.Stderr, "warning: failed to create log directory for %s: %v\n", logFile, err)
		} else {
			lw := &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    getenvInt("LOG_MAX_SIZE_MB", 100),
				MaxBackups: getenvInt("LOG_MAX_BACKUPS", 7),
				MaxAge:     getenvInt("LOG_MAX_DAYS", 14),
				Compress:   getenvBool("LOG_COMPRESS", true),
			}
			cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(lw), level))
		}
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID stores the request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored on ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// For returns l annotated with the request id carried by ctx, if any.
func For(ctx context.Context, l *zap.Logger) *zap.Logger {
	if id := RequestID(ctx); id != "" {
		return l.With(zap.String("request_id", id))
	}
	return l
}

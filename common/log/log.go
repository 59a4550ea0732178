package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled, structured logger used across blerps. Every
// component receives one at construction time and narrows it with Named.
type Logger interface {
	Info(keyvals ...interface{})
	Debug(keyvals ...interface{})
	Warn(keyvals ...interface{})
	Error(keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Debugw(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	Fatalw(msg string, keyvals ...interface{})
	With(args ...interface{}) Logger
	Named(s string) Logger
	Sync() error
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l *zapLogger) With(args ...interface{}) Logger {
	return &zapLogger{l.SugaredLogger.With(args...)}
}

func (l *zapLogger) Named(s string) Logger {
	return &zapLogger{l.SugaredLogger.Named(s)}
}

const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
)

// TestLogsEnv switches the default level to debug when set to "DEBUG".
const TestLogsEnv = "BLERPS_TEST_LOGS"

// DefaultLevel is the level of the default logger.
var DefaultLevel = InfoLevel

//nolint:gochecknoinits
func init() {
	if v, ok := os.LookupEnv(TestLogsEnv); ok && v == "DEBUG" {
		DefaultLevel = DebugLevel
	}
}

var defaultOnce sync.Once

// DefaultLogger returns the process-wide logger, writing JSON to stdout at
// DefaultLevel.
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		zap.ReplaceGlobals(newZap(nil, jsonEncoder(), DefaultLevel))
	})
	return &zapLogger{zap.S()}
}

// ConfigureDefaultLogger replaces the process-wide logger.
func ConfigureDefaultLogger(output zapcore.WriteSyncer, level int, jsonFormat bool) {
	enc := consoleEncoder()
	if jsonFormat {
		enc = jsonEncoder()
	}
	defaultOnce.Do(func() {})
	zap.ReplaceGlobals(newZap(output, enc, level))
}

// New returns a logger printing statements at or above level. A nil output
// means stdout.
func New(output zapcore.WriteSyncer, level int, isJSON bool) Logger {
	enc := consoleEncoder()
	if isJSON {
		enc = jsonEncoder()
	}
	return &zapLogger{newZap(output, enc, level).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &zapLogger{zap.NewNop().Sugar()}
}

func newZap(output zapcore.WriteSyncer, enc zapcore.Encoder, level int) *zap.Logger {
	if output == nil {
		output = os.Stdout
	}
	core := zapcore.NewCore(enc, output, zapcore.Level(level))
	return zap.New(core, zap.WithCaller(true))
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(encoderConfig())
}

func consoleEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(encoderConfig())
}

type ctxKey string

const ctxLogger ctxKey = "blerpsLogger"

// ToContext stores l on the context.
func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxLogger, l)
}

// FromContextOrDefault returns the logger stored with ToContext, or the
// default logger if there is none.
func FromContextOrDefault(ctx context.Context) Logger {
	l, ok := ctx.Value(ctxLogger).(Logger)
	if !ok {
		l = DefaultLogger()
		l.Debugw("logger missing on context, using default logger")
	}
	return l
}

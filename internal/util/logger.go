package util

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOptions selects the logger flavour. The factory fills it from
// config.LoggingConfig.
type LogOptions struct {
	Environment string
	Level       string
	// Format is "json" or "console".
	Format  string
	Service string
}

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// NewLogger builds a stdout logger. Production gets ISO8601 timestamps,
// sampling and no stack traces.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	cfg.Encoding = "console"
	if opts.Format == "json" {
		cfg.Encoding = "json"
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	var fields []zap.Option
	if opts.Service != "" {
		fields = append(fields, zap.Fields(zap.String("service", opts.Service)))
	}
	return cfg.Build(append(fields, zap.AddCaller())...)
}

// Init installs the process-wide logger once and returns it.
func Init(opts LogOptions) *zap.Logger {
	once.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			panic("failed to initialize logger: " + err.Error())
		}
		globalLogger = logger
		zap.ReplaceGlobals(logger)
	})
	return globalLogger
}

// Get returns the global logger, initializing a production JSON logger if
// Init was never called.
func Get() *zap.Logger {
	return Init(LogOptions{Environment: "production", Level: "info", Format: "json", Service: "registration-service"})
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// Subject logs a short prefix of a lookup hash. Plaintext phone numbers and
// emails never reach the log.
func Subject(hash string) zap.Field {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return zap.String("subject", hash)
}

// The package-level helpers log through the global logger with the caller
// of the helper reported.

func Debug(msg string, fields ...zap.Field) { caller().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { caller().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { caller().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { caller().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { caller().Fatal(msg, fields...) }

func caller() *zap.Logger {
	return Get().WithOptions(zap.AddCallerSkip(1))
}

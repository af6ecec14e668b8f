package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	// Skip if no context
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	// Extract span from context
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	// Add trace context to log
	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks. Logs go to stderr:
// git relays hook output to the terminal, and stdout stays clean for
// the plain-text messages the hook prints for the user.
func NewLogger(service string) *Logger {
	return NewLoggerTo(service, os.Stderr)
}

// NewLoggerTo creates a logger writing to w. Tests and the file sink
// use this directly.
func NewLoggerTo(service string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		Level(levelFromEnv()).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// levelFromEnv reads VAHTI_LOG_LEVEL. Defaults to warn so routine hook
// invocations stay silent.
func levelFromEnv() zerolog.Level {
	lvl, err := zerolog.ParseLevel(os.Getenv("VAHTI_LOG_LEVEL"))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.WarnLevel
	}
	return lvl
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Info().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.AsString())
	}
}

// Convenience methods for hook enforcement

func (l *Logger) LogHookStart(ctx context.Context, hook string, args []string) {
	l.WithContext(ctx).Debug().
		Str("hook", hook).
		Strs("args", args).
		Msg("hook invoked")
}

func (l *Logger) LogDecision(ctx context.Context, operation, branch, action, reason string, risk, detection float64) {
	l.WithContext(ctx).Info().
		Str("operation", operation).
		Str("branch", branch).
		Str("action", action).
		Str("reason", reason).
		Float64("risk_score", risk).
		Float64("detection_score", detection).
		Msg("enforcement decision")
}

func (l *Logger) LogCacheHit(ctx context.Context, fingerprint, result string) {
	l.WithContext(ctx).Debug().
		Str("fingerprint", fingerprint).
		Str("result", result).
		Msg("operation cache hit")
}

func (l *Logger) LogServiceError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("policy service call failed")
}

func (l *Logger) LogApprovalOutcome(ctx context.Context, changeID, outcome string, waitedMs int64) {
	l.WithContext(ctx).Info().
		Str("change_id", changeID).
		Str("outcome", outcome).
		Int64("waited_ms", waitedMs).
		Msg("approval wait finished")
}

package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "activity_ingest"

// Span pairs an OpenTelemetry span with log lines for its start, failure and end.
// Without a configured tracer provider the global no-op one is used.
type Span struct {
	Name string

	span   trace.Span
	logger *slog.Logger
	start  time.Time
	err    error
	ended  bool
}

// StartSpan opens a span under whatever span ctx already carries. attrs are slog-style
// key/value pairs and are set on both the span and its log lines.
func StartSpan(ctx context.Context, logger *slog.Logger, name string, attrs ...any) (context.Context, *Span) {
	ctx, span := otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attributes(attrs)...))

	fields := append([]any{"span", name}, attrs...)
	if sc := span.SpanContext(); sc.IsValid() {
		fields = append(fields, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}

	s := &Span{
		Name:   name,
		span:   span,
		logger: logger.With(fields...),
		start:  time.Now(),
	}
	s.logger.Debug("span started")
	return ctx, s
}

func attributes(attrs []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case int64:
			out = append(out, attribute.Int64(key, v))
		case bool:
			out = append(out, attribute.Bool(key, v))
		default:
			out = append(out, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return out
}

// Fail records err on the span; End reports it.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.err = err
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *Span) Failed() bool {
	return s != nil && s.err != nil
}

func (s *Span) Duration() time.Duration {
	return time.Since(s.start)
}

func (s *Span) End() {
	if s == nil || s.ended {
		return
	}
	s.ended = true
	s.span.End()

	took := s.Duration()
	if s.err != nil {
		s.logger.Warn("span failed", "duration_ms", took.Milliseconds(), "error", s.err)
		return
	}
	s.logger.Debug("span finished", "duration_ms", took.Milliseconds())
}

package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "corkboard-api"
	moveEventName   = "board.move"
	moveEventDomain = "corkboard"
)

// moveRequestMetrics collects per-request timings for the move/reorder path
// and emits them twice: as an otel span and as one structured log event.
type moveRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	operation      string
	start          time.Time
	authDuration   time.Duration
	fetchDuration  time.Duration
	commitDuration time.Duration
	errorStage     string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger, operation string) (*moveRequestMetrics, context.Context) {
	m := &moveRequestMetrics{
		logger:    logger,
		operation: operation,
		start:     time.Now(),
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, operation)
	m.span = span
	return m, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *moveRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *moveRequestMetrics) ObserveCommit(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.commitDuration = duration
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and emits the observability event for this request.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := map[string]any{
		"http.route":               "/api/boards/:boardID/.../move",
		"http.status_code":         status,
		"corkboard.move.operation": m.operation,
		"corkboard.move.total_ms":  durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		attrs["corkboard.move.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		attrs["corkboard.move.fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.commitDuration > 0 {
		attrs["corkboard.move.commit_ms"] = durationToMillis(m.commitDuration)
	}
	if m.errorStage != "" {
		attrs["corkboard.move.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("corkboard.move.operation", m.operation),
			attribute.Int("http.status_code", status),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("corkboard.move.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
			m.span.RecordError(err)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	m.logger.WithFields(log.Fields{
		"event.name":   moveEventName,
		"event.domain": moveEventDomain,
		"attributes":   attrs,
	}).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

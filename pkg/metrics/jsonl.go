package metrics

import (
	"context"
	"io"
	"log/slog"
)

type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("session_id", ev.SessionID),
		slog.String("stage", string(ev.Stage)),
		slog.Time("time", ev.Time),
		slog.Float64("latency_ms", ev.LatencyMs),
	}
	for k, v := range ev.Counters {
		attrs = append(attrs, slog.Int64(k, v))
	}
	o.logger.LogAttrs(context.TODO(), slog.LevelInfo, "pipeline_metrics", attrs...)
}

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/shelfsort/api/internal/domain"
)

// ResortRunMetrics counts terminal resort runs by status using the global
// OpenTelemetry meter provider.
type ResortRunMetrics struct {
	runs metric.Int64Counter
}

// NewResortRunMetrics registers the resort run counter instruments.
func NewResortRunMetrics() (*ResortRunMetrics, error) {
	meter := otel.Meter("github.com/shelfsort/api/internal/platform/observability")
	runs, err := meter.Int64Counter("resort.runs",
		metric.WithDescription("Terminal resort runs grouped by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: register resort run counter: %w", err)
	}
	return &ResortRunMetrics{runs: runs}, nil
}

// RecordRun increments the run counter for the given terminal status.
func (m *ResortRunMetrics) RecordRun(ctx context.Context, status domain.ResortRunStatus) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
	))
}

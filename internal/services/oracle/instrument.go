package oracle

import (
	"context"
	"time"

	"github.com/vadiminshakov/papertrade/internal/metrics"
)

// Instrument wraps an oracle with Prometheus latency and failure metrics.
func Instrument(backend string, next Oracle) Oracle {
	return &instrumented{backend: backend, next: next}
}

type instrumented struct {
	backend string
	next    Oracle
}

func (i *instrumented) GetPrice(ctx context.Context, token string) (float64, error) {
	start := time.Now()
	price, err := i.next.GetPrice(ctx, token)
	metrics.OracleLatency.WithLabelValues(i.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleFailures.WithLabelValues(i.backend).Inc()
	}
	return price, err
}

func (i *instrumented) GetMetadata(ctx context.Context, token string) (*TokenMetadata, error) {
	return i.next.GetMetadata(ctx, token)
}

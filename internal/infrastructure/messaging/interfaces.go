// Package messaging pushes live statistics to connected websocket clients.
package messaging

import (
	"context"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
)

// RealtimeSource produces the payload pushed on each tick.
type RealtimeSource interface {
	GetRealtimeStats(ctx context.Context) *analytics.RealtimeStats
}

// RealtimeSourceFunc adapts a function to RealtimeSource.
type RealtimeSourceFunc func(ctx context.Context) *analytics.RealtimeStats

func (f RealtimeSourceFunc) GetRealtimeStats(ctx context.Context) *analytics.RealtimeStats {
	return f(ctx)
}

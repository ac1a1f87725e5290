package port

import (
	"context"

	"github.com/berfenger/lynx2mqtt/internal/core/domain"
)

// HistoryWriter persists sampled function values to a time series store.
// Writes must be non-blocking; implementations batch and flush internally.
type HistoryWriter interface {
	Connect(ctx context.Context) error
	WriteFunctionSample(state domain.FunctionState)
	Flush()
	HealthCheck(ctx context.Context) error
	Close()
}

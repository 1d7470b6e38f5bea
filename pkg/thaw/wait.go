package thaw

import (
	"context"
	"time"

	"github.com/permafrost-sh/permafrost/internal/logger"
)

// DefaultPollInterval is how often Wait re-checks an in-flight request.
const DefaultPollInterval = 60 * time.Second

// Wait polls a request until it reaches a terminal status or the context
// is cancelled. An interval of zero uses DefaultPollInterval.
func (e *Engine) Wait(ctx context.Context, requestID string, interval time.Duration) (*StatusResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := e.CheckStatus(ctx, requestID)
		if err != nil {
			return result, err
		}
		if result.Done {
			return result, nil
		}

		logger.DebugCtx(ctx, "Thaw: restores still in flight",
			"request_id", requestID, "interval", interval)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

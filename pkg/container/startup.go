package container

import (
	"context"
	"fmt"
)

// RunStartupCallbacks runs callbacks one after another in order. It stops at
// the first callback that fails or as soon as ctx is done; later callbacks
// never run and nothing is retried.
func RunStartupCallbacks(ctx context.Context, c *Container, callbacks []StartupCallback) error {
	for i, callback := range callbacks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("startup cancelled before callback %d: %w", i+1, err)
		}

		c.logger.Debug("running startup callback", "index", i+1, "total", len(callbacks))
		if err := callback(ctx, c); err != nil {
			return fmt.Errorf("startup callback %d failed: %w", i+1, err)
		}
	}

	return nil
}

package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/bulkforce/internal/auth"
)

// PollBatch waits until a batch reaches a terminal state and returns its
// final status.
//
// Each cycle waits interval and then fetches the status once, so requests
// for the same batch never overlap. A non-positive interval uses the client
// default. A failed status fetch ends polling with that error; it is not
// retried. Cancelling ctx ends polling with ctx.Err().
func (c *Client) PollBatch(ctx context.Context, cred auth.Credential, jobID, batchID string, interval time.Duration) (*BatchInfo, error) {
	if interval <= 0 {
		interval = c.cfg.PollInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("poll batch %s: %w", batchID, ctx.Err())
		case <-timer.C:
		}

		info, err := c.GetBatch(ctx, cred, jobID, batchID)
		if err != nil {
			return nil, err
		}
		if info.Terminal() {
			c.logger.Debug("batch finished",
				"job_id", jobID,
				"batch_id", batchID,
				"state", info.State,
				"polls", polls,
			)
			return info, nil
		}

		c.logger.Debug("batch pending", "job_id", jobID, "batch_id", batchID, "state", info.State)
		timer.Reset(interval)
	}
}

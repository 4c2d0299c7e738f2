package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Stream writes events from c to w as NDJSON until ctx is done or the
// client is unregistered. flush, when non-nil, runs after every event.
func Stream(ctx context.Context, w io.Writer, flush func(), c *Client) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
			if flush != nil {
				flush()
			}
		}
	}
}

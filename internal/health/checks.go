package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/unalkalkan/pdftools-offline/internal/storage"
)

// StorageCheck lists the cache root of the storage adapter
func StorageCheck(adapter storage.Adapter, prefix string) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		if _, err := adapter.List(ctx, prefix); err != nil {
			return StatusUnhealthy, fmt.Errorf("storage unavailable: %w", err)
		}
		return StatusHealthy, nil
	}
}

// ControllerCheck is degraded while no controller version is active, since
// requests then bypass the cache
func ControllerCheck(activeVersion func() string) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		if activeVersion() == "" {
			return StatusDegraded, fmt.Errorf("no active controller")
		}
		return StatusHealthy, nil
	}
}

// BreakerCheck is degraded while the upstream circuit is open, since
// requests are then answered from the cache only
func BreakerCheck(state func() string) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		switch s := strings.ToLower(state()); s {
		case "disabled", "closed":
			return StatusHealthy, nil
		default:
			return StatusDegraded, fmt.Errorf("upstream circuit %s", s)
		}
	}
}

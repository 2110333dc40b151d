// ABOUTME: No-op power actuator for dry-run deployments
// ABOUTME: Logs the requested action without touching any hypervisor

package power

import (
	"context"
	"log/slog"
)

// NoopActuator records requested actions without performing them. Used
// when vSphere credentials are not configured, so the control loops can
// run observe-only.
type NoopActuator struct{}

func (NoopActuator) Apply(ctx context.Context, vmName string, action Action) error {
	slog.Info("Dry-run power action", "vm", vmName, "action", action)
	return nil
}

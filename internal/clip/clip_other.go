//go:build !linux && !darwin && !windows

package clip

import "log/slog"

// New returns the headless capability on platforms without a supported
// clipboard integration.
func New() Selection {
	slog.Warn("no clipboard integration for this platform, running headless")
	return newHeadless()
}

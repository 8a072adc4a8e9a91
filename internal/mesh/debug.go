package mesh

import (
	"sync/atomic"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// debugEnabled gates high-frequency diagnostic logging for the package.
var debugEnabled atomic.Bool

// SetDebug enables or disables per-fragment debug logging.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether debug logging is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// debugf logs only when debug mode is enabled. Rejected fragments and
// coalesced updates are frequent during a scan, so they stay quiet by
// default.
func debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		monitoring.Logf(format, v...)
	}
}

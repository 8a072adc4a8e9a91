package archive

import (
	"sync/atomic"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

var debugEnabled atomic.Bool

// SetDebug enables or disables per-record debug logging.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

func debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		monitoring.Logf(format, v...)
	}
}

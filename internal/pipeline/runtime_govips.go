//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initializes the vips runtime once per process. Safe to call from
// every entry point; later calls cannot change the cache bounds.
func Startup(cfg RuntimeConfig) error {
	startupOnce.Do(func() {
		mem := cfg.CacheMemBytes
		if mem <= 0 {
			mem = 256 << 20
		}
		items := cfg.CacheItems
		if items <= 0 {
			items = 100
		}

		vips.LoggingSettings(nil, vips.LogLevelError)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   mem,
			MaxCacheSize:  items,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newTransformer() (Transformer, error) {
	return govipsTransformer{}, nil
}

//go:build govips && cgo

package codec

import (
	"errors"
	"runtime"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

// libvips can be started once per process; after Shutdown it stays down.
type vipsState int

const (
	vipsIdle vipsState = iota
	vipsRunning
	vipsStopped
)

var (
	vipsMu    sync.Mutex
	vipsPhase vipsState
)

var errVipsStopped = errors.New("libvips already shut down")

func Startup() error {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	switch vipsPhase {
	case vipsRunning:
		return nil
	case vipsStopped:
		return errVipsStopped
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: runtime.GOMAXPROCS(0),
		MaxCacheFiles:    0,
		MaxCacheMem:      64 << 20,
		MaxCacheSize:     50,
	})
	vipsPhase = vipsRunning
	return nil
}

func Shutdown() {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	if vipsPhase != vipsRunning {
		return
	}
	vips.Shutdown()
	vipsPhase = vipsStopped
}

func New() (Codec, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return Vips{}, nil
}

package lockbox

import (
	"time"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/fpga"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from firing if it has not fired yet.
	Stop() bool
}

// TimerService schedules one-shot callbacks. A callback runs at most once.
type TimerService interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealTimers schedules callbacks on the runtime timer.
type RealTimers struct{}

func (RealTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ResourcePool hands out hardware PIDs. It is shared between lockboxes.
type ResourcePool interface {
	Acquire(owner string) (*fpga.PID, error)
	Release(pid *fpga.PID)
	SetOwner(pid *fpga.PID, owner string)
	Available() int
}

// Acquirer reads samples of an input signal.
type Acquirer interface {
	Acquire(signal string, n int) ([]float64, error)
}

// StoreProvider returns the persisted section of a lockbox.
type StoreProvider interface {
	Section(name string) config.Store
}

// Notifier receives fire-and-forget notifications. Implementations must not
// block.
type Notifier interface {
	Publish(name string, payload any)
}

package fpga

import (
	"fmt"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PID is a handle on one PID block of a device. It is obtained from a
// PIDPool and must be released back to it.
type PID struct {
	index int
	owner string
	dev   Device
}

// Index returns the PID block index on the device.
func (p *PID) Index() int { return p.index }

// Owner returns the name of the current owner.
func (p *PID) Owner() string { return p.owner }

// Name returns a short human-readable identifier such as "pid0".
func (p *PID) Name() string { return fmt.Sprintf("pid%d", p.index) }

// Write writes c to the PID block.
func (p *PID) Write(c PIDConfig) error {
	if err := p.dev.WritePID(p.index, c); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", p.Name())
	}
	return nil
}

// Read reads the PID block configuration back.
func (p *PID) Read() (PIDConfig, error) {
	c, err := p.dev.ReadPID(p.index)
	if err != nil {
		return c, pkgerrors.Wrapf(err, "failed to read %s", p.Name())
	}
	return c, nil
}

// ResetIntegrator zeroes the integrator.
func (p *PID) ResetIntegrator() error {
	if err := p.dev.ResetIntegrator(p.index); err != nil {
		return pkgerrors.Wrapf(err, "failed to reset integrator of %s", p.Name())
	}
	return nil
}

// PIDPool hands out the PID blocks of a device to owners. It is shared by
// every lockbox of an instrument.
type PIDPool struct {
	mu   sync.Mutex
	dev  Device
	pids []*PID
	used map[int]bool
}

// NewPIDPool returns a pool over all PID blocks of dev.
func NewPIDPool(dev Device) *PIDPool {
	p := &PIDPool{
		dev:  dev,
		used: make(map[int]bool),
	}
	for i := 0; i < dev.PIDCount(); i++ {
		p.pids = append(p.pids, &PID{index: i, dev: dev})
	}
	return p
}

// Acquire returns the lowest free PID, tagged with owner.
func (p *PIDPool) Acquire(owner string) (*PID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pid := range p.pids {
		if p.used[pid.index] {
			continue
		}
		p.used[pid.index] = true
		pid.owner = owner
		logrus.WithFields(logrus.Fields{
			"pid":   pid.Name(),
			"owner": owner,
		}).Debug("pid acquired")
		return pid, nil
	}

	return nil, ErrNoPIDAvailable
}

// Release gives pid back to the pool. Releasing a free or nil PID is a no-op.
func (p *PIDPool) Release(pid *PID) {
	if pid == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.used[pid.index] {
		return
	}
	delete(p.used, pid.index)
	logrus.WithFields(logrus.Fields{
		"pid":   pid.Name(),
		"owner": pid.owner,
	}).Debug("pid released")
	pid.owner = ""
}

// SetOwner re-tags an acquired PID.
func (p *PIDPool) SetOwner(pid *PID, owner string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid.owner = owner
}

// Available returns the number of free PIDs.
func (p *PIDPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pids) - len(p.used)
}

// Size returns the total number of PIDs.
func (p *PIDPool) Size() int {
	return len(p.pids)
}

// Owners returns the owner of every acquired PID, keyed by PID name.
func (p *PIDPool) Owners() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ret := make(map[string]string, len(p.used))
	for _, pid := range p.pids {
		if p.used[pid.index] {
			ret[pid.Name()] = pid.owner
		}
	}
	return ret
}

package lockbox

import (
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/events"
)

// Input returns the named input.
func (lb *Lockbox) Input(name string) (*InputSignal, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	in := lb.input(name)
	if in == nil {
		return nil, pkgerrors.Wrapf(ErrNotFound, "input %q", name)
	}
	return in, nil
}

// Inputs returns the inputs in model order.
func (lb *Lockbox) Inputs() []*InputSignal {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return append([]*InputSignal(nil), lb.inputs...)
}

// CalibrateAll calibrates every input in order. The first failure stops the
// run and is returned.
func (lb *Lockbox) CalibrateAll() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if err := lb.checkOpen(); err != nil {
		return err
	}

	for _, in := range lb.inputs {
		if err := in.calibrate(lb.samples); err != nil {
			lb.save()
			return err
		}
		lb.store.SetInput(in.Name(), in.Config())
		lb.notify(events.InputCalibrated, events.EntitiesEvent{
			Lockbox: lb.name,
			Names:   []string{in.Name()},
			Ts:      time.Now().Unix(),
		})
	}
	lb.save()
	return nil
}

func (lb *Lockbox) input(name string) *InputSignal {
	for _, in := range lb.inputs {
		if in.Name() == name {
			return in
		}
	}
	return nil
}

func (lb *Lockbox) inputNames() []string {
	ret := make([]string, 0, len(lb.inputs))
	for _, in := range lb.inputs {
		ret = append(ret, in.Name())
	}
	return ret
}

// addInput appends in. Inputs are only added while the lockbox is built.
func (lb *Lockbox) addInput(in *InputSignal) {
	in.setup()
	lb.inputs = append(lb.inputs, in)
	lb.notify(events.InputAdded, events.EntitiesEvent{
		Lockbox: lb.name,
		Names:   []string{in.Name()},
		Ts:      time.Now().Unix(),
	})
}

func (lb *Lockbox) removeInput(name string) error {
	for i, in := range lb.inputs {
		if in.Name() != name {
			continue
		}
		in.unsetup()
		lb.inputs = append(lb.inputs[:i], lb.inputs[i+1:]...)
		lb.notify(events.InputRemoved, events.EntitiesEvent{
			Lockbox: lb.name,
			Names:   []string{name},
			Ts:      time.Now().Unix(),
		})
		return nil
	}
	return pkgerrors.Wrapf(ErrNotFound, "input %q", name)
}

package lockbox

import (
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/events"
)

// DefaultCalibrationSamples is the number of samples per input calibration.
const DefaultCalibrationSamples = 1024

// InstrumentOptions are the collaborators shared by the lockboxes of an
// instrument.
type InstrumentOptions struct {
	Pool     ResourcePool
	Acquirer Acquirer
	Store    StoreProvider
	// Notifier may be nil.
	Notifier Notifier
	// Timers defaults to RealTimers.
	Timers TimerService
	// CalibrationSamples defaults to DefaultCalibrationSamples.
	CalibrationSamples int
}

// Instrument owns the lockboxes sharing one device.
type Instrument struct {
	mu        sync.Mutex
	lockboxes map[string]*Lockbox

	pool     ResourcePool
	acq      Acquirer
	store    StoreProvider
	notifier Notifier
	timers   TimerService
	samples  int
}

// NewInstrument returns an instrument without lockboxes.
func NewInstrument(opts InstrumentOptions) *Instrument {
	if opts.Timers == nil {
		opts.Timers = RealTimers{}
	}
	if opts.CalibrationSamples <= 0 {
		opts.CalibrationSamples = DefaultCalibrationSamples
	}
	return &Instrument{
		lockboxes: make(map[string]*Lockbox),
		pool:      opts.Pool,
		acq:       opts.Acquirer,
		store:     opts.Store,
		notifier:  opts.Notifier,
		timers:    opts.Timers,
		samples:   opts.CalibrationSamples,
	}
}

// AddLockbox builds the lockbox name from its persisted section. A persisted
// classname that is not registered falls back to DefaultModel.
func (in *Instrument) AddLockbox(name string) (*Lockbox, error) {
	if name == "" {
		return nil, pkgerrors.Wrap(ErrValidation, "lockbox name must not be empty")
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.lockboxes[name]; ok {
		return nil, pkgerrors.Wrapf(ErrNameConflict, "lockbox %q", name)
	}

	classname := in.store.Section(name).Classname()
	if classname == "" {
		classname = DefaultModel
	}
	model, err := LookupModel(classname)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"lockbox":   name,
			"classname": classname,
		}).Warn("unknown persisted classname, falling back to " + DefaultModel)
		model, _ = LookupModel(DefaultModel)
	}

	lb, err := newLockbox(in, name, model)
	if err != nil {
		return nil, err
	}
	in.lockboxes[name] = lb
	return lb, nil
}

// Lockbox returns the current instance named name.
func (in *Instrument) Lockbox(name string) (*Lockbox, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	lb, ok := in.lockboxes[name]
	if !ok {
		return nil, pkgerrors.Wrapf(ErrNotFound, "lockbox %q", name)
	}
	return lb, nil
}

// Lockboxes returns every lockbox, sorted by name.
func (in *Instrument) Lockboxes() []*Lockbox {
	in.mu.Lock()
	defer in.mu.Unlock()

	ret := make([]*Lockbox, 0, len(in.lockboxes))
	for _, lb := range in.lockboxes {
		ret = append(ret, lb)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].name < ret[j].name })
	return ret
}

// SwitchModel replaces lockbox name by a new instance of the model
// classname, built from the same persisted section. The old instance is torn
// down and returns ErrClosed from then on. Switching to the current model is
// a no-op.
func (in *Instrument) SwitchModel(name, classname string) (*Lockbox, error) {
	model, err := LookupModel(classname)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	old, ok := in.lockboxes[name]
	if !ok {
		return nil, pkgerrors.Wrapf(ErrNotFound, "lockbox %q", name)
	}

	old.mu.Lock()
	if old.model == model {
		old.mu.Unlock()
		return old, nil
	}
	oldModel := old.model
	old.teardown()
	old.store.SetClassname(model.Name)
	old.save()
	old.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"lockbox": name,
		"from":    oldModel.Name,
		"to":      model.Name,
	}).Info("switching lockbox model")

	lb, err := newLockbox(in, name, model)
	if err != nil {
		logrus.WithError(err).WithField("lockbox", name).Warn("failed to build new model, falling back to " + oldModel.Name)
		lb, err = newLockbox(in, name, oldModel)
		if err != nil {
			// The old instance is gone either way.
			delete(in.lockboxes, name)
			return nil, err
		}
	}
	in.lockboxes[name] = lb

	lb.notify(events.ModelChanged, events.ModelChangedEvent{
		Lockbox:   name,
		Classname: lb.model.Name,
		Ts:        time.Now().Unix(),
	})
	return lb, nil
}

// Close tears down every lockbox.
func (in *Instrument) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	for name, lb := range in.lockboxes {
		lb.Close()
		delete(in.lockboxes, name)
	}
}

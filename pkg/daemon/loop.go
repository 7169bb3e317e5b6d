package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

var (
	// relockWindow and maxRelocksPerWindow bound how often a lockbox is
	// relocked. A loop that keeps falling out of lock is left alone.
	relockWindow        = 5 * time.Minute
	maxRelocksPerWindow = 5

	relockRecordersMu = &sync.Mutex{}
	relockRecorders   = map[string]*TimeSeriesRecorder{}
)

// TimeSeriesRecorder records the last N event times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	Records        []time.Time
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Records:        make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *TimeSeriesRecorder) AddRecordNow() {
	r.AddRecord(time.Now())
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, t)
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Records = make([]time.Time, 0)
}

// GetRecords returns a copy of the records.
func (r *TimeSeriesRecorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Time(nil), r.Records...)
}

// GetRecordsString returns the records in RFC3339 format.
func (r *TimeSeriesRecorder) GetRecordsString() []string {
	records := r.GetRecords()
	recordsString := make([]string, 0, len(records))
	for _, record := range records {
		recordsString = append(recordsString, record.Format(time.RFC3339))
	}
	return recordsString
}

// GetRecordsIn returns the number of records in the last duration.
func (r *TimeSeriesRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := len(r.Records) - 1; i >= 0; i-- {
		if time.Since(r.Records[i]) > last {
			break
		}
		count++
	}
	return count
}

// GetLastRecord returns the last record.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Records) == 0 {
		return time.Time{}
	}

	return r.Records[len(r.Records)-1]
}

func formatRelativeTimes(times []time.Time) []string {
	var timesString []string
	for _, t := range times {
		timesString = append(timesString, time.Since(t).Round(time.Second).String())
	}
	return timesString
}

// relockRecorder returns the relock history of lockbox name.
func relockRecorder(name string) *TimeSeriesRecorder {
	relockRecordersMu.Lock()
	defer relockRecordersMu.Unlock()

	r, ok := relockRecorders[name]
	if !ok {
		r = NewTimeSeriesRecorder(60)
		relockRecorders[name] = r
	}
	return r
}

// relockLoop checks every lockbox each interval until ctx is done.
func relockLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, lb := range inst.Lockboxes() {
				relockLockbox(lb)
			}
		}
	}
}

// relockLockbox relocks lb if it has auto-relock on, sits in its last stage
// and its inputs report it out of lock. It returns whether a relock was
// attempted.
func relockLockbox(lb *lockbox.Lockbox) bool {
	if !lb.AutoRelock() {
		return false
	}

	st := lb.Status()
	if len(st.Stages) == 0 || string(st.State) != st.Stages[len(st.Stages)-1].Name {
		logrus.WithFields(logrus.Fields{
			"lockbox": lb.Name(),
			"state":   st.State,
		}).Trace("not in the final stage, skipping relock check")
		return false
	}

	locked, err := lb.IsLocked()
	if err != nil {
		logrus.WithError(err).WithField("lockbox", lb.Name()).Warn("failed to check lock")
		return false
	}
	if locked {
		return false
	}

	rec := relockRecorder(lb.Name())
	if n := rec.GetRecordsIn(relockWindow); n >= maxRelocksPerWindow {
		logrus.WithFields(logrus.Fields{
			"lockbox":       lb.Name(),
			"relocks":       n,
			"window":        relockWindow,
			"recentRelocks": formatRelativeTimes(rec.GetRecords()),
		}).Warn("too many relocks, leaving lockbox out of lock")
		return false
	}
	rec.AddRecordNow()

	logrus.WithField("lockbox", lb.Name()).Info("lockbox out of lock, relocking")
	if err := lb.Lock(); err != nil {
		logrus.WithError(err).WithField("lockbox", lb.Name()).Error("relock failed")
	}
	return true
}

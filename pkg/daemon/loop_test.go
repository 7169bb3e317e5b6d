package daemon

import (
	"sync"
	"testing"
	"time"

	"github.com/charlie0129/lockbox/pkg/lockbox"
)

func TestTimeSeriesRecorder_GetRecordsIn(t *testing.T) {
	now := time.Now()
	ago := func(d time.Duration) time.Time { return now.Add(-d).Add(-10 * time.Millisecond) }

	tests := []struct {
		name    string
		records []time.Time
		last    time.Duration
		want    int
	}{
		{
			name:    "no records",
			records: nil,
			last:    time.Minute,
			want:    0,
		},
		{
			name:    "some records outside the window",
			records: []time.Time{ago(31 * time.Second), ago(20 * time.Second), ago(10 * time.Second)},
			last:    25 * time.Second,
			want:    2,
		},
		{
			name: "all records inside the window",
			records: []time.Time{
				ago(40 * time.Second), ago(30 * time.Second), ago(20 * time.Second), ago(10 * time.Second),
			},
			last: 50 * time.Second,
			want: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &TimeSeriesRecorder{
				MaxRecordCount: 10,
				Records:        tt.records,
				mu:             &sync.Mutex{},
			}
			if got := r.GetRecordsIn(tt.last); got != tt.want {
				t.Errorf("GetRecordsIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeSeriesRecorderMaxCount(t *testing.T) {
	r := NewTimeSeriesRecorder(3)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		r.AddRecord(base.Add(time.Duration(i) * time.Minute))
	}

	records := r.GetRecords()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].Equal(base.Add(2 * time.Minute).Round(0)) {
		t.Fatalf("expected oldest records to be dropped, first is %v", records[0])
	}
	if !r.GetLastRecord().Equal(base.Add(4 * time.Minute).Round(0)) {
		t.Fatalf("unexpected last record %v", r.GetLastRecord())
	}

	r.ClearRecords()
	if len(r.GetRecords()) != 0 || !r.GetLastRecord().IsZero() {
		t.Fatalf("expected no records after clear")
	}
}

// lockedLockbox returns a lockbox with a single "lock" stage holding output1
// at setpoint 0.5.
func lockedLockbox(t *testing.T) *lockbox.Lockbox {
	t.Helper()

	lb, err := inst.Lockbox("laser")
	if err != nil {
		t.Fatalf("Lockbox failed: %v", err)
	}
	st, err := lb.AddStage()
	if err != nil {
		t.Fatalf("AddStage failed: %v", err)
	}
	if err := lb.RenameStage(st.Name(), "lock"); err != nil {
		t.Fatalf("RenameStage failed: %v", err)
	}
	err = lb.ConfigureStage("lock", 0, map[string]lockbox.OutputSetting{
		"output1": {LockOn: lockbox.LockOn, Setpoint: 0.5, GainFactor: 1},
	})
	if err != nil {
		t.Fatalf("ConfigureStage failed: %v", err)
	}
	return lb
}

func TestRelockLockbox(t *testing.T) {
	dev := setupTestDaemon(t, 3, "laser")
	lb := lockedLockbox(t)
	dev.SetSignal("in1", []float64{2})

	if relockLockbox(lb) {
		t.Fatalf("relock attempted with auto-relock off")
	}

	if err := lb.SetAutoRelock(true); err != nil {
		t.Fatalf("SetAutoRelock failed: %v", err)
	}
	if relockLockbox(lb) {
		t.Fatalf("relock attempted while unlocked")
	}

	if err := lb.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if !relockLockbox(lb) {
		t.Fatalf("expected relock of an out-of-lock lockbox")
	}
	if lb.State() != "lock" {
		t.Fatalf("expected lockbox back in stage lock, got %s", lb.State())
	}
	if n := relockRecorder("laser").GetRecordsIn(relockWindow); n != 1 {
		t.Fatalf("expected 1 recorded relock, got %d", n)
	}

	dev.SetSignal("in1", []float64{0.5})
	if relockLockbox(lb) {
		t.Fatalf("relock attempted while locked")
	}
}

func TestRelockLockboxStormLimit(t *testing.T) {
	dev := setupTestDaemon(t, 3, "laser")
	lb := lockedLockbox(t)
	dev.SetSignal("in1", []float64{2})

	if err := lb.SetAutoRelock(true); err != nil {
		t.Fatalf("SetAutoRelock failed: %v", err)
	}
	if err := lb.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	for i := 0; i < maxRelocksPerWindow; i++ {
		if !relockLockbox(lb) {
			t.Fatalf("relock %d was not attempted", i)
		}
	}
	if relockLockbox(lb) {
		t.Fatalf("expected relocks to stop after %d attempts", maxRelocksPerWindow)
	}

	relockRecorder("laser").ClearRecords()
	if !relockLockbox(lb) {
		t.Fatalf("expected relock after clearing the history")
	}
}

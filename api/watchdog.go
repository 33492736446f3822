/*
watchdog.go - Stale open shift watchdog

PURPOSE:
  Periodically lists assignments that are still open although their date
  has passed. Each one blocks the next shift on the same nozzle under
  strict shift ordering and keeps its volume out of cash reconciliation,
  so the watchdog logs them and publishes the count as a gauge.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Checks immediately on start, then on every tick
  - Read-only: it never closes or reassigns anything

CONFIGURATION:
  - CheckInterval: How often to check (OPEN_SHIFT_CHECK_INTERVAL)
  - Enabled: Whether the watchdog runs (false when the interval is zero)

USAGE:
  wd := NewOpenShiftWatchdog(store, catalog, log, metrics, 15*time.Minute)
  wd.Start()
  // ... later
  wd.Stop()

SEE ALSO:
  - shift/continuity.go: Predecessor gate
  - metrics.go: stale_open_shifts gauge
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/fuelstation/shift"
)

// OpenShiftWatchdog reports open assignments dated before today.
type OpenShiftWatchdog struct {
	Store         shift.Store
	Master        shift.MasterData
	Log           logrus.FieldLogger
	Metrics       *Metrics
	CheckInterval time.Duration
	Enabled       bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOpenShiftWatchdog creates a watchdog. A non-positive interval disables it.
func NewOpenShiftWatchdog(store shift.Store, master shift.MasterData, log logrus.FieldLogger, metrics *Metrics, interval time.Duration) *OpenShiftWatchdog {
	return &OpenShiftWatchdog{
		Store:         store,
		Master:        master,
		Log:           log,
		Metrics:       metrics,
		CheckInterval: interval,
		Enabled:       interval > 0,
		Now:           time.Now,
	}
}

// Start begins the periodic check.
func (wd *OpenShiftWatchdog) Start() {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if !wd.Enabled {
		wd.Log.Info("open shift watchdog disabled")
		return
	}
	if wd.ticker != nil {
		return
	}

	wd.ticker = time.NewTicker(wd.CheckInterval)
	wd.stop = make(chan struct{})
	wd.wg.Add(1)

	go wd.run(wd.ticker.C, wd.stop)

	wd.Log.WithField("interval", wd.CheckInterval.String()).Info("open shift watchdog started")
}

// Stop stops the watchdog and waits for a running check to finish.
func (wd *OpenShiftWatchdog) Stop() {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if wd.ticker != nil {
		wd.ticker.Stop()
		close(wd.stop)
		wd.wg.Wait()
		wd.ticker = nil
		wd.Log.Info("open shift watchdog stopped")
	}
}

func (wd *OpenShiftWatchdog) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer wd.wg.Done()

	wd.check()

	for {
		select {
		case <-tick:
			wd.check()
		case <-stop:
			return
		}
	}
}

func (wd *OpenShiftWatchdog) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := wd.CheckOnce(ctx); err != nil {
		wd.Log.WithError(err).Warn("open shift check failed")
	}
}

// CheckOnce lists the stale open assignments, logs each one and updates
// the gauge.
func (wd *OpenShiftWatchdog) CheckOnce(ctx context.Context) ([]shift.Assignment, error) {
	now := time.Now
	if wd.Now != nil {
		now = wd.Now
	}
	today := shift.DateOf(now())

	stale, err := wd.Store.ListOpenBefore(ctx, today)
	if err != nil {
		return nil, err
	}

	for _, a := range stale {
		entry := wd.Log.WithFields(logrus.Fields{
			"assignment_id": int64(a.ID),
			"shift_id":      int64(a.ShiftID),
			"nozzle_id":     int64(a.NozzleID),
			"employee_id":   int64(a.EmployeeID),
			"date":          a.AssignedDate.String(),
		})
		if wd.Master != nil {
			entry = entry.WithField("employee", wd.Master.EmployeeName(ctx, a.EmployeeID))
		}
		entry.Warn("shift still open after its date")
	}
	if wd.Metrics != nil {
		wd.Metrics.SetStaleOpenShifts(len(stale))
	}
	return stale, nil
}

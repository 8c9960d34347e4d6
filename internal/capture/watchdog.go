package capture

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// WatchdogState is the supervisor lifecycle state.
type WatchdogState string

const (
	StateStarting   WatchdogState = "starting"
	StateRunning    WatchdogState = "running"
	StateUnhealthy  WatchdogState = "unhealthy"
	StateRestarting WatchdogState = "restarting"
	StateStopped    WatchdogState = "stopped"
)

// WatchdogConfig holds the supervision thresholds. All waits are bounded:
// nothing in the watchdog blocks indefinitely.
type WatchdogConfig struct {
	// CheckInterval is how often the health check runs.
	CheckInterval time.Duration
	// Staleness is the maximum heartbeat age considered healthy.
	Staleness time.Duration
	// StartupGrace is how long a freshly launched process may run without
	// any heartbeat before it is considered unhealthy. New processes need
	// time to produce their first segment.
	StartupGrace time.Duration
	// RestartCooldown is the pause between killing a stale process and
	// relaunching.
	RestartCooldown time.Duration
	// MinRestartInterval is the anti-flap floor: restarts attempted more
	// often than this are skipped and logged.
	MinRestartInterval time.Duration
	// StopGrace is how long a terminated process gets to exit before it
	// is force-killed.
	StopGrace time.Duration
}

// DefaultWatchdogConfig returns the stock supervision thresholds.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		CheckInterval:      10 * time.Second,
		Staleness:          90 * time.Second,
		StartupGrace:       60 * time.Second,
		RestartCooldown:    5 * time.Second,
		MinRestartInterval: 60 * time.Second,
		StopGrace:          5 * time.Second,
	}
}

// WatchdogStats is a snapshot of the supervisor's counters.
type WatchdogStats struct {
	State           WatchdogState `json:"state"`
	Restarts        int           `json:"restarts"`
	SkippedRestarts int           `json:"skipped_restarts"`
	ProcessStart    time.Time     `json:"process_start"`
}

// Watchdog owns the external capture process. It polls the heartbeat log
// for evidence of liveness and restarts the process when the evidence goes
// stale, with rate limiting so a persistently broken source cannot cause a
// restart storm. Every state transition is appended to the heartbeat log
// for post-hoc diagnosis.
type Watchdog struct {
	config   WatchdogConfig
	log      *HeartbeatLog
	launcher Launcher
	limiter  *rate.Limiter

	mu           sync.Mutex
	state        WatchdogState
	proc         Process
	processStart time.Time
	restarts     int
	skipped      int

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewWatchdog creates a supervisor for the given launcher. Nothing runs
// until Start.
func NewWatchdog(config WatchdogConfig, log *HeartbeatLog, launcher Launcher) *Watchdog {
	return &Watchdog{
		config:   config,
		log:      log,
		launcher: launcher,
		limiter:  rate.NewLimiter(rate.Every(config.MinRestartInterval), 1),
		state:    StateStarting,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the capture process and the polling loop. A failed
// initial launch is a process failure, not a fatal error: the loop keeps
// retrying under the same rate limiting as any other restart.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	if w.state != StateStarting {
		w.mu.Unlock()
		return fmt.Errorf("capture: watchdog already started (state %s)", w.state)
	}
	w.mu.Unlock()

	if err := w.launch(); err != nil {
		monitoring.Logf("watchdog: initial launch failed, will retry: %v", err)
		w.transition(StateUnhealthy, fmt.Sprintf("initial launch failed: %v", err))
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

// launch starts a fresh process and transitions to Running.
func (w *Watchdog) launch() error {
	proc, err := w.launcher.Launch()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.proc = proc
	w.processStart = w.now()
	w.mu.Unlock()
	w.transition(StateRunning, "capture process launched")
	return nil
}

// run is the polling loop: one bounded health check per tick, cooperative
// shutdown via the stop channel.
func (w *Watchdog) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check runs one health evaluation and drives the state machine.
func (w *Watchdog) check() {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state == StateStopped {
		return
	}

	if w.CheckHealth(w.now()) {
		if state == StateUnhealthy {
			w.transition(StateRunning, "health restored")
		}
		return
	}

	if state != StateUnhealthy {
		w.transition(StateUnhealthy, "health check failed: heartbeat stale")
	}
	w.restart()
}

// CheckHealth reports whether the capture process currently looks alive.
// Healthy iff a heartbeat exists no older than the staleness threshold, or
// no heartbeat exists yet and the process is still within its startup
// grace period. A dead process is never healthy.
func (w *Watchdog) CheckHealth(now time.Time) bool {
	w.mu.Lock()
	proc := w.proc
	start := w.processStart
	w.mu.Unlock()

	if proc == nil {
		return false
	}
	select {
	case <-proc.Done():
		return false
	default:
	}

	latest, ok, err := w.log.LatestHeartbeat()
	if err != nil {
		// Transient I/O: retried on the next poll, never escalated.
		monitoring.Logf("watchdog: heartbeat read failed: %v", err)
		return true
	}
	if ok {
		return now.Sub(latest) <= w.config.Staleness
	}
	return now.Sub(start) < w.config.StartupGrace
}

// restart kills the stale process and relaunches, unless the rate limiter
// refuses. A refused restart is logged as a skip and retried on a later
// tick once the inter-restart interval has passed.
func (w *Watchdog) restart() {
	if !w.limiter.Allow() {
		w.mu.Lock()
		w.skipped++
		w.mu.Unlock()
		if err := w.log.AppendEvent("SKIP: restart suppressed by rate limit"); err != nil {
			monitoring.Logf("watchdog: event append failed: %v", err)
		}
		return
	}

	w.transition(StateRestarting, "restarting capture process")
	w.stopProcess()

	select {
	case <-w.stop:
		return
	case <-time.After(w.config.RestartCooldown):
	}

	w.mu.Lock()
	w.restarts++
	w.mu.Unlock()
	if err := w.launch(); err != nil {
		monitoring.Logf("watchdog: relaunch failed: %v", err)
		w.transition(StateUnhealthy, fmt.Sprintf("relaunch failed: %v", err))
	}
}

// stopProcess terminates the child gracefully, then force-kills after the
// grace timeout. Always waits for exit so no orphan is left behind.
func (w *Watchdog) stopProcess() {
	w.mu.Lock()
	proc := w.proc
	w.proc = nil
	w.mu.Unlock()
	if proc == nil {
		return
	}

	if err := proc.Terminate(); err != nil {
		monitoring.Logf("watchdog: terminate failed: %v", err)
	}
	select {
	case <-proc.Done():
		return
	case <-time.After(w.config.StopGrace):
	}
	if err := proc.Kill(); err != nil {
		monitoring.Logf("watchdog: kill failed: %v", err)
	}
	<-proc.Done()
}

// Stop shuts the supervisor down: the polling loop is joined and the child
// process terminated before returning. Stop is terminal; a stopped
// watchdog cannot be restarted.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}
	w.wg.Wait()
	w.stopProcess()
	w.transition(StateStopped, "watchdog stopped")
}

// State returns the current lifecycle state.
func (w *Watchdog) State() WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of the supervisor counters.
func (w *Watchdog) Stats() WatchdogStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WatchdogStats{
		State:           w.state,
		Restarts:        w.restarts,
		SkippedRestarts: w.skipped,
		ProcessStart:    w.processStart,
	}
}

// transition records a state change in the heartbeat log.
func (w *Watchdog) transition(to WatchdogState, reason string) {
	w.mu.Lock()
	from := w.state
	w.state = to
	w.mu.Unlock()
	if from == to {
		return
	}
	msg := fmt.Sprintf("watchdog %s -> %s: %s", from, to, reason)
	monitoring.Logf("%s", msg)
	if err := w.log.AppendEvent(msg); err != nil {
		monitoring.Logf("watchdog: event append failed: %v", err)
	}
}

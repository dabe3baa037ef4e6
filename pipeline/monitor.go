package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/magpielabs/magpie/config"
	"github.com/magpielabs/magpie/queue"
)

// PausableQueue is the control surface the monitor drives.
type PausableQueue interface {
	Pause(ctx context.Context, source string) error
	Resume(ctx context.Context, source string) (bool, error)
	IsPaused(ctx context.Context) bool
	PausedByCPU(ctx context.Context) bool
}

// Monitor runs the two resource feedback loops: a CPU loop that pauses the
// queue under sustained load and resumes it once load clears, and a memory
// loop that warns and forces collections when the heap crosses its limit.
type Monitor struct {
	queue PausableQueue
	cfg   config.MonitorConfig

	prev     cpu.TimesStat
	hasPrev  bool
	pausedAt time.Time

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMonitor(q PausableQueue, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		queue:  q,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches both loops in the background.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(2)
		go m.cpuLoop()
		go m.memLoop()
		slog.Info("resource monitors started",
			"cpuInterval", m.cfg.CPUInterval,
			"cpuHighPct", m.cfg.CPUHigh,
			"cpuLowPct", m.cfg.CPULow,
			"memInterval", m.cfg.MemInterval,
			"heapWarnMb", m.cfg.HeapWarnMB,
		)
	})
}

// Stop halts both loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

func (m *Monitor) cpuLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.CPUInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.checkCPU()
		}
	}
}

func (m *Monitor) checkCPU() {
	stats, err := cpu.Times(false)
	if err != nil || len(stats) == 0 {
		slog.Warn("cpu sample failed", "error", err)
		return
	}
	cur := stats[0]
	if !m.hasPrev {
		// The first sample has no delta to compute against.
		m.prev, m.hasPrev = cur, true
		return
	}
	busy := computeCPUPercent(m.prev, cur)
	m.prev = cur

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	switch {
	case busy > m.cfg.CPUHigh && !m.queue.IsPaused(ctx):
		if err := m.queue.Pause(ctx, queue.PauseCPU); err != nil {
			slog.Error("cpu pause failed", "error", err)
			return
		}
		m.pausedAt = time.Now()
		slog.Warn("queue paused on cpu pressure",
			"busyPct", busy,
			"highPct", m.cfg.CPUHigh,
		)

	case busy < m.cfg.CPULow && m.queue.PausedByCPU(ctx):
		// A floor on the pause keeps oscillating load from flapping the
		// queue on and off every tick.
		if time.Since(m.pausedAt) < m.cfg.MinPause {
			return
		}
		resumed, err := m.queue.Resume(ctx, queue.PauseCPU)
		if err != nil {
			slog.Error("cpu resume failed", "error", err)
			return
		}
		if resumed {
			slog.Info("queue resumed, cpu pressure cleared",
				"busyPct", busy,
				"lowPct", m.cfg.CPULow,
			)
		}
	}
}

// computeCPUPercent derives busy percent from two cumulative samples,
// clamped to [0, 100]. Zero elapsed time yields 0.
func computeCPUPercent(prev, cur cpu.TimesStat) float64 {
	dTotal := cpuTotal(cur) - cpuTotal(prev)
	dIdle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	if dTotal <= 0 {
		return 0
	}
	busy := 100 * (dTotal - dIdle) / dTotal
	if busy < 0 {
		return 0
	}
	if busy > 100 {
		return 100
	}
	return busy
}

// cpuTotal sums the cumulative time buckets. Guest time is excluded: Linux
// already accounts it inside User.
func cpuTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

func (m *Monitor) memLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.MemInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.checkMemory()
		}
	}
}

func (m *Monitor) checkMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := ms.HeapAlloc >> 20
	if heapMB > m.cfg.HeapWarnMB {
		slog.Warn("heap above limit, forcing gc",
			"heapMb", heapMB,
			"sysMb", ms.Sys>>20,
			"numGc", ms.NumGC,
			"limitMb", m.cfg.HeapWarnMB,
		)
		runtime.GC()
	}
}

// maybeGC triggers a collection when the live heap exceeds limitMB.
func maybeGC(limitMB uint64, where string) {
	if limitMB == 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := ms.HeapAlloc >> 20
	if heapMB > limitMB {
		slog.Info("heap above threshold, forcing gc",
			"where", where,
			"heapMb", heapMB,
			"limitMb", limitMB,
		)
		runtime.GC()
	}
}

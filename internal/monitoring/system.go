package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemSnapshot holds one measurement of process/host resource usage.
type SystemSnapshot struct {
	MemoryMB   float64
	CPUPercent float64
	Goroutines int
	Timestamp  time.Time
}

// SystemMonitor periodically samples process memory, host CPU usage, and
// goroutine count. The server consults the last snapshot to decide whether
// to reject new connections when CPU usage is above its threshold, without
// re-measuring on every request.
type SystemMonitor struct {
	logger zerolog.Logger
	proc   *process.Process

	snapshot atomic.Pointer[SystemSnapshot]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemMonitor creates a monitor for the current process.
func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	sm := &SystemMonitor{logger: logger.With().Str("component", "system_monitor").Logger()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		sm.logger.Warn().Err(err).Msg("failed to get process handle, falling back to host memory stats")
	} else {
		sm.proc = proc
	}
	sm.snapshot.Store(&SystemSnapshot{Timestamp: time.Now()})
	return sm
}

// Start begins periodic sampling at the given interval until Stop is called.
func (sm *SystemMonitor) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	sm.cancel = cancel
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				LogPanic(sm.logger, r, "system monitor goroutine panicked", nil)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sm.sample()
		for {
			select {
			case <-ticker.C:
				sm.sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (sm *SystemMonitor) sample() {
	var memMB float64
	if sm.proc != nil {
		if info, err := sm.proc.MemoryInfo(); err == nil {
			memMB = float64(info.RSS) / 1024 / 1024
		}
	} else if vmem, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vmem.Used) / 1024 / 1024
	}

	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	sm.snapshot.Store(&SystemSnapshot{
		MemoryMB:   memMB,
		CPUPercent: cpuPercent,
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	})
}

// Snapshot returns the most recent sample.
func (sm *SystemMonitor) Snapshot() SystemSnapshot {
	return *sm.snapshot.Load()
}

// Stop ends the sampling goroutine and waits for it to exit.
func (sm *SystemMonitor) Stop() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.wg.Wait()
}

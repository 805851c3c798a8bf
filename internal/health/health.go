// Package health periodically samples process CPU/memory and exposes them
// on the metrics/health endpoint, the way the teacher's SystemMonitor
// (internal/shared/monitoring/system_monitor.go) centralizes a single
// measurement per interval rather than letting each component sample
// independently. Unlike the teacher's container-aware cgroup CPUMonitor,
// this samples via gopsutil's process.Process directly: this module runs
// one component per process rather than N shards behind a load balancer,
// so there is no duplicate-measurement problem to solve for.
package health

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

func numGoroutines() int { return runtime.NumGoroutine() }

// Snapshot is the most recent resource sample.
type Snapshot struct {
	CPUPercent float64
	MemoryMB   float64
	Goroutines int
	SampledAt  time.Time
}

// Sampler periodically measures this process's CPU/memory and publishes
// them to the process's telemetry Registry.
type Sampler struct {
	proc    *process.Process
	metrics *telemetry.Registry
	logger  zerolog.Logger
	numCPU  int

	mu   sync.RWMutex
	last Snapshot
}

// NewSampler constructs a Sampler for the current process.
func NewSampler(metrics *telemetry.Registry, logger zerolog.Logger) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: proc, metrics: metrics, logger: logger}, nil
}

// Run samples at interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	cpuPercent, err := s.proc.Percent(0)
	if err != nil {
		s.logger.Warn().Err(err).Msg("gopsutil cpu sample failed")
		cpuPercent = 0
	}

	memMB := 0.0
	if memInfo, err := s.proc.MemoryInfo(); err == nil {
		memMB = float64(memInfo.RSS) / (1024 * 1024)
	} else {
		s.logger.Warn().Err(err).Msg("gopsutil memory sample failed")
	}

	goroutines := numGoroutines()

	snap := Snapshot{CPUPercent: cpuPercent, MemoryMB: memMB, Goroutines: goroutines, SampledAt: time.Now()}
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ProcessCPUPercent.Set(cpuPercent)
		s.metrics.ProcessMemoryMB.Set(memMB)
		s.metrics.ProcessGoroutines.Set(float64(goroutines))
	}
}

// Current returns the most recent snapshot.
func (s *Sampler) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

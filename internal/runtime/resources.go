package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuMetric = "/sched/cpu:seconds"

// resourceTracker derives process CPU and memory figures for handler
// stats snapshots. CPU percent is computed from the delta of cumulative
// scheduler CPU seconds between two Snapshot calls, normalized across
// all logical CPUs.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample

	prevCPUSeconds float64
	prevAt         time.Time
	cpus           float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuMetric}},
		cpus:    float64(runtime.NumCPU()),
	}
}

// Snapshot reads the current resource figures. A nil tracker reports
// zeros so stats structs can embed it unconditionally.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: cpuMetric}}
	}
	metrics.Read(r.samples)

	now := time.Now()
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc

	if r.samples[0].Value.Kind() == metrics.KindFloat64 {
		cpuSeconds := r.samples[0].Value.Float64()
		if !r.prevAt.IsZero() && r.cpus > 0 {
			wall := now.Sub(r.prevAt).Seconds()
			if wall > 0 {
				usage.CPUPercent = (cpuSeconds - r.prevCPUSeconds) / wall / r.cpus * 100
			}
		}
		r.prevCPUSeconds = cpuSeconds
	}
	r.prevAt = now

	return usage
}

// Package procmetrics samples resource usage of the current process for
// inclusion in heartbeats.
package procmetrics

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one resource sample.
type Usage struct {
	// CPUPercent is lifetime CPU time over wall-clock uptime, normalized by
	// processor count, rounded to 2 decimals.
	CPUPercent float64

	// MemoryMB is the resident set size in MiB, rounded to 2 decimals.
	MemoryMB float64

	// ThreadCount is the number of live OS threads.
	ThreadCount int
}

// Sampler produces resource samples.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Usage, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(ctx context.Context) (Usage, error) {
	return f(ctx)
}

// ProcessSampler samples the current process through gopsutil.
type ProcessSampler struct {
	proc   *process.Process
	numCPU int
	now    func() time.Time
}

// NewProcessSampler creates a sampler for the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("opening current process: %w", err)
	}
	return &ProcessSampler{
		proc:   proc,
		numCPU: runtime.NumCPU(),
		now:    time.Now,
	}, nil
}

// Sample implements Sampler.
func (s *ProcessSampler) Sample(ctx context.Context) (Usage, error) {
	times, err := s.proc.TimesWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("reading cpu times: %w", err)
	}
	createdMs, err := s.proc.CreateTimeWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("reading process start time: %w", err)
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("reading memory info: %w", err)
	}
	threads, err := s.proc.NumThreadsWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("reading thread count: %w", err)
	}

	cpuTime := time.Duration((times.User + times.System) * float64(time.Second))
	uptime := s.now().Sub(time.UnixMilli(createdMs))

	return Usage{
		CPUPercent:  CPUPercent(cpuTime, uptime, s.numCPU),
		MemoryMB:    BytesToMB(mem.RSS),
		ThreadCount: int(threads),
	}, nil
}

// CPUPercent computes cpu/uptime*100/cpus rounded to 2 decimals.
// Non-positive uptime or cpu count yields 0.
func CPUPercent(cpu, uptime time.Duration, cpus int) float64 {
	if uptime <= 0 || cpus <= 0 {
		return 0
	}
	return Round2(cpu.Seconds() / uptime.Seconds() * 100.0 / float64(cpus))
}

// BytesToMB converts bytes to MiB rounded to 2 decimals.
func BytesToMB(b uint64) float64 {
	return Round2(float64(b) / 1024.0 / 1024.0)
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

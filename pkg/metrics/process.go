package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessSampler samples CPU and memory of one process into the process gauges.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler attaches to the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessSample, err)
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample records one reading of CPU, RSS, goroutines and heap.
func (s *ProcessSampler) Sample() error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	UpdateSystemMemoryUsage(ms.HeapAlloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())

	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return fmt.Errorf("%w: cpu: %w", ErrProcessSample, err)
	}
	UpdateProcessCPUPercent(cpu)

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return fmt.Errorf("%w: memory: %w", ErrProcessSample, err)
	}
	UpdateProcessRSS(mem.RSS)
	return nil
}

// Run samples every interval until ctx is done. Sample errors are passed to
// onErr, which may be nil.
func (s *ProcessSampler) Run(ctx context.Context, interval time.Duration, onErr func(error)) {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Sample(); err != nil && onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

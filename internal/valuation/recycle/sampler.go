package recycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// UsageSample is a point-in-time memory reading.
type UsageSample struct {
	RSSBytes  uint64
	Processes int
	TakenAt   time.Time
}

// MB returns the sample in mebibytes.
func (s UsageSample) MB() float64 {
	return float64(s.RSSBytes) / 1024 / 1024
}

// Sampler reads memory usage.
type Sampler interface {
	Sample(ctx context.Context) (UsageSample, error)
}

// ProcessSampler sums the resident memory of a process and all its
// descendants, which include the browser processes it launched.
type ProcessSampler struct {
	pid int32
}

// NewProcessSampler samples the current process tree.
func NewProcessSampler() *ProcessSampler {
	return &ProcessSampler{pid: int32(os.Getpid())}
}

// Sample implements Sampler.
func (s *ProcessSampler) Sample(ctx context.Context) (UsageSample, error) {
	root, err := process.NewProcessWithContext(ctx, s.pid)
	if err != nil {
		return UsageSample{}, fmt.Errorf("open process %d: %w", s.pid, err)
	}

	sample := UsageSample{TakenAt: time.Now()}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		mem, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			// Children may exit between listing and reading.
			if p == root {
				return UsageSample{}, fmt.Errorf("read memory of %d: %w", p.Pid, err)
			}
			continue
		}
		sample.RSSBytes += mem.RSS
		sample.Processes++

		children, err := p.ChildrenWithContext(ctx)
		if err != nil && !errors.Is(err, process.ErrorNoChildren) {
			continue
		}
		queue = append(queue, children...)
	}
	return sample, nil
}

package telemetry

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemSampler reports process load in percent.
type SystemSampler interface {
	Sample() (cpu float64, memory float64, err error)
}

// ProcessSampler measures the current process. CPU is the CPU-time delta since the
// previous sample over the elapsed wall time; memory is resident size over total RAM.
type ProcessSampler struct {
	proc     *process.Process
	total    uint64
	lastCPU  float64
	lastWall time.Time
	now      func() time.Time
}

// NewProcessSampler primes the CPU baseline for the running process.
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect process: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read system memory: %w", err)
	}
	s := &ProcessSampler{proc: p, total: vm.Total, now: time.Now}
	s.lastCPU, err = s.cpuSeconds()
	if err != nil {
		return nil, err
	}
	s.lastWall = s.now()
	return s, nil
}

func (s *ProcessSampler) cpuSeconds() (float64, error) {
	t, err := s.proc.Times()
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu times: %w", err)
	}
	return t.User + t.System, nil
}

func (s *ProcessSampler) Sample() (float64, float64, error) {
	cpuNow, err := s.cpuSeconds()
	if err != nil {
		return 0, 0, err
	}
	wall := s.now()
	elapsed := wall.Sub(s.lastWall).Seconds()

	var cpu float64
	if elapsed > 0 {
		cpu = (cpuNow - s.lastCPU) / elapsed * 100
	}
	s.lastCPU, s.lastWall = cpuNow, wall

	info, err := s.proc.MemoryInfo()
	if err != nil {
		return cpu, 0, fmt.Errorf("failed to read memory info: %w", err)
	}
	var memPct float64
	if s.total > 0 {
		memPct = float64(info.RSS) / float64(s.total) * 100
	}
	return cpu, memPct, nil
}

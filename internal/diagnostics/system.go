// Package diagnostics reports host resource usage so the dashboard
// can warn when parallel agents are starving the machine.
package diagnostics

import (
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot holds system-wide resource usage at one point in time.
// Fields are best-effort; a probe that fails leaves its zero value.
type Snapshot struct {
	CPUModel   string  `json:"cpuModel"`
	CPUCores   int     `json:"cpuCores"`
	CPUThreads int     `json:"cpuThreads"`
	CPUPercent float64 `json:"cpuPercent"`

	MemTotalMB float64 `json:"memTotalMb"`
	MemUsedMB  float64 `json:"memUsedMb"`
	MemPercent float64 `json:"memPercent"`

	DiskTotalGB float64 `json:"diskTotalGb"`
	DiskUsedGB  float64 `json:"diskUsedGb"`
	DiskPercent float64 `json:"diskPercent"`

	LoadAvg1  float64 `json:"loadAvg1"`
	LoadAvg5  float64 `json:"loadAvg5"`
	LoadAvg15 float64 `json:"loadAvg15"`
}

// Collector samples system statistics. CPU usage is computed from the
// delta between consecutive Collect calls, so the first sample reports
// zero.
type Collector struct {
	mu           sync.Mutex
	lastCPUTotal float64
	lastCPUIdle  float64

	infoOnce   sync.Once
	cpuModel   string
	cpuCores   int
	cpuThreads int
}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect gathers current system statistics.
func (c *Collector) Collect() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Snapshot
	c.collectHardwareInfo(&s)
	c.collectCPU(&s)
	collectMemory(&s)
	collectDisk(&s)
	collectLoad(&s)
	return s
}

func (c *Collector) collectHardwareInfo(s *Snapshot) {
	c.infoOnce.Do(func() {
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			c.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
		if cores, err := cpu.Counts(false); err == nil {
			c.cpuCores = cores
		}
		if threads, err := cpu.Counts(true); err == nil {
			c.cpuThreads = threads
		}
	})
	s.CPUModel = c.cpuModel
	s.CPUCores = c.cpuCores
	s.CPUThreads = c.cpuThreads
}

func (c *Collector) collectCPU(s *Snapshot) {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return
	}

	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idle := t.Idle + t.Iowait

	if c.lastCPUTotal > 0 {
		totalDelta := total - c.lastCPUTotal
		idleDelta := idle - c.lastCPUIdle
		if totalDelta > 0 {
			s.CPUPercent = (1 - idleDelta/totalDelta) * 100
		}
	}
	c.lastCPUTotal = total
	c.lastCPUIdle = idle
}

func collectMemory(s *Snapshot) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	s.MemTotalMB = float64(vm.Total) / 1024 / 1024
	s.MemUsedMB = float64(vm.Used) / 1024 / 1024
	s.MemPercent = vm.UsedPercent
}

func collectDisk(s *Snapshot) {
	path := "/"
	if runtime.GOOS == "windows" {
		path = "C:\\"
	}
	usage, err := disk.Usage(path)
	if err != nil {
		return
	}
	s.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	s.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	s.DiskPercent = usage.UsedPercent
}

func collectLoad(s *Snapshot) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	s.LoadAvg1 = avg.Load1
	s.LoadAvg5 = avg.Load5
	s.LoadAvg15 = avg.Load15
}

// CheckAgentCommand reports whether the agent CLI is resolvable on
// PATH, returning the resolved path.
func CheckAgentCommand(command string) (string, bool) {
	path, err := exec.LookPath(command)
	if err != nil {
		return "", false
	}
	return path, true
}

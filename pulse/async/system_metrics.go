package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/scribe/errors"
)

// SystemMetrics is a point-in-time view of host memory next to queue load.
type SystemMetrics struct {
	JobsActive    int     `json:"jobs_active"`
	JobsQueued    int     `json:"jobs_queued"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// memoryStats is replaced in tests.
var memoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeJobCount recommends how many jobs may run media extraction
// and upload at once. Each holds an ffmpeg process and an upload buffer.
func calculateSafeJobCount(availableGB float64) int {
	const memoryPerJob = 0.25 // GB per running job
	const memoryBuffer = 1.0  // GB reserved for the rest of the system

	if availableGB < memoryBuffer {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerJob)
	if recommended < 1 {
		return 1
	}
	return recommended
}

// checkMemoryPressure returns a warning when launching jobs at once may
// exhaust memory, or "" when it looks fine or cannot be measured.
func checkMemoryPressure(jobs int) string {
	total, available, err := memoryStats()
	if err != nil || total == 0 {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeJobCount(availableGB)

	if jobs > recommended {
		return fmt.Sprintf(
			"Launching %d jobs at once exceeds the recommended %d for available memory (%.1f/%.1fGB used). "+
				"Consider processing fewer files per run.",
			jobs, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}

func readSystemMetrics(active, queued int) SystemMetrics {
	m := SystemMetrics{JobsActive: active, JobsQueued: queued}
	total, available, err := memoryStats()
	if err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	return m
}

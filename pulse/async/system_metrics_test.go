package async

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/scribe/errors"
)

const gb = 1024 * 1024 * 1024

func stubMemory(t *testing.T, total, available uint64, err error) {
	t.Helper()
	orig := memoryStats
	memoryStats = func() (uint64, uint64, error) { return total, available, err }
	t.Cleanup(func() { memoryStats = orig })
}

func TestCalculateSafeJobCount(t *testing.T) {
	assert.Equal(t, 1, calculateSafeJobCount(0.5))
	assert.Equal(t, 1, calculateSafeJobCount(1.1))
	assert.Equal(t, 4, calculateSafeJobCount(2))
	assert.Equal(t, 28, calculateSafeJobCount(8))
}

func TestCheckMemoryPressure(t *testing.T) {
	stubMemory(t, 16*gb, 2*gb, nil)
	assert.Empty(t, checkMemoryPressure(4))
	assert.Contains(t, checkMemoryPressure(5), "exceeds the recommended 4")

	stubMemory(t, 0, 0, errors.New("unsupported platform"))
	assert.Empty(t, checkMemoryPressure(500))
}

func TestReadSystemMetrics(t *testing.T) {
	stubMemory(t, 16*gb, 4*gb, nil)
	m := readSystemMetrics(3, 7)
	assert.Equal(t, 3, m.JobsActive)
	assert.Equal(t, 7, m.JobsQueued)
	assert.InDelta(t, 16.0, m.MemoryTotalGB, 1e-9)
	assert.InDelta(t, 12.0, m.MemoryUsedGB, 1e-9)
	assert.InDelta(t, 75.0, m.MemoryPercent, 1e-9)
}

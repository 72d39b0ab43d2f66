package procmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercent(t *testing.T) {
	tests := []struct {
		name   string
		cpu    time.Duration
		uptime time.Duration
		cpus   int
		want   float64
	}{
		{"one core fully busy", 10 * time.Second, 10 * time.Second, 1, 100},
		{"half of one core on four", 5 * time.Second, 10 * time.Second, 4, 12.5},
		{"rounding", time.Second, 3 * time.Second, 1, 33.33},
		{"zero uptime", time.Second, 0, 4, 0},
		{"zero cpus", time.Second, time.Second, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CPUPercent(tt.cpu, tt.uptime, tt.cpus))
		})
	}
}

func TestBytesToMB(t *testing.T) {
	assert.Equal(t, 0.0, BytesToMB(0))
	assert.Equal(t, 1.0, BytesToMB(1024*1024))
	assert.Equal(t, 1.5, BytesToMB(1024*1024*3/2))
	assert.Equal(t, 0.01, BytesToMB(10*1024))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.23, Round2(1.2345))
	assert.Equal(t, 1.24, Round2(1.2351))
	assert.Equal(t, -1.24, Round2(-1.2351))
}

func TestProcessSampler_CurrentProcess(t *testing.T) {
	s, err := NewProcessSampler()
	require.NoError(t, err)

	u, err := s.Sample(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, u.CPUPercent, 0.0)
	assert.Greater(t, u.MemoryMB, 0.0)
	assert.Greater(t, u.ThreadCount, 0)
}

func TestSamplerFunc(t *testing.T) {
	var s Sampler = SamplerFunc(func(ctx context.Context) (Usage, error) {
		return Usage{ThreadCount: 7}, nil
	})
	u, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, u.ThreadCount)
}

package probe

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_ImmediateAddress(t *testing.T) {
	p := New(SourceFunc(func() ([]string, error) {
		return []string{"http://localhost:5000", "https://localhost:5001"}, nil
	}))

	url, ok := p.DetectURL(context.Background())
	require.True(t, ok)
	assert.Equal(t, "http://localhost:5000", url)

	port, ok := p.DetectPort(context.Background())
	require.True(t, ok)
	assert.Equal(t, 5000, port)
}

func TestDetect_AddressAppearsLater(t *testing.T) {
	var calls atomic.Int32
	p := New(SourceFunc(func() ([]string, error) {
		if calls.Add(1) < 4 {
			return nil, nil
		}
		return []string{"http://127.0.0.1:8080"}, nil
	}), WithInterval(5*time.Millisecond))

	port, ok := p.DetectPort(context.Background())
	require.True(t, ok)
	assert.Equal(t, 8080, port)
	assert.EqualValues(t, 4, calls.Load())
}

func TestDetect_TimeoutIsBounded(t *testing.T) {
	var calls atomic.Int32
	p := New(SourceFunc(func() ([]string, error) {
		calls.Add(1)
		return []string{}, nil
	}), WithInterval(10*time.Millisecond), WithAttempts(20))

	start := time.Now()
	_, ok := p.DetectURL(context.Background())
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.EqualValues(t, 21, calls.Load())
}

func TestDetect_DefaultTimeoutWithinTwoSeconds(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the real 2s bound")
	}
	p := New(NewListenerSet())

	start := time.Now()
	_, ok := p.DetectPort(context.Background())
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second-DefaultInterval)
	assert.LessOrEqual(t, elapsed, 2*time.Second+2*DefaultInterval)
}

func TestDetect_UnavailableSource(t *testing.T) {
	p := New(SourceFunc(func() ([]string, error) {
		return nil, ErrUnavailable
	}))

	start := time.Now()
	_, ok := p.DetectURL(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), DefaultInterval)
}

func TestDetect_NilSource(t *testing.T) {
	_, ok := New(nil).DetectPort(context.Background())
	assert.False(t, ok)

	var p *Probe
	_, ok = p.DetectURL(context.Background())
	assert.False(t, ok)
}

func TestDetect_PanickingSourceDegrades(t *testing.T) {
	p := New(SourceFunc(func() ([]string, error) {
		panic("boom")
	}))
	assert.NotPanics(t, func() {
		_, ok := p.DetectURL(context.Background())
		assert.False(t, ok)
	})
}

func TestDetect_CancelUnblocksWithinOneTick(t *testing.T) {
	p := New(NewListenerSet(), WithInterval(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := p.DetectURL(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("probe did not observe cancellation")
	}
}

func TestDetect_NoCaching(t *testing.T) {
	set := NewListenerSet()
	set.AddAddress("http://localhost:1000")
	p := New(set)

	first, _ := p.DetectPort(context.Background())
	set.Reset()
	set.AddAddress("http://localhost:2000")
	second, _ := p.DetectPort(context.Background())

	assert.Equal(t, 1000, first)
	assert.Equal(t, 2000, second)
}

func TestListenerSet_Add(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	set := NewListenerSet()
	set.Add("http", l)

	addrs, err := set.Addresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1)

	port, ok := PortOf(addrs[0])
	require.True(t, ok)
	assert.Equal(t, l.Addr().(*net.TCPAddr).Port, port)
}

func TestPortOf(t *testing.T) {
	tests := []struct {
		addr string
		port int
		ok   bool
	}{
		{"http://localhost:5000", 5000, true},
		{"https://[::]:5001", 5001, true},
		{"http://example.com", 80, true},
		{"https://example.com", 443, true},
		{"grpc://example.com", 0, false},
		{"localhost:5000", 0, false},
		{"http://localhost:99999", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			port, ok := PortOf(tt.addr)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.port, port)
		})
	}
}

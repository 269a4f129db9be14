package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGatePauseResume(t *testing.T) {
	g := NewGate()
	if !g.Running() {
		t.Fatal("new gate should be running")
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on running gate: %v", err)
	}

	g.Pause()
	if g.Running() {
		t.Fatal("gate should be paused")
	}

	released := make(chan struct{})
	go func() {
		g.Wait(context.Background())
		close(released)
	}()
	select {
	case <-released:
		t.Fatal("Wait returned while gate paused")
	case <-time.After(50 * time.Millisecond):
	}

	g.Resume()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resume")
	}

	// Idempotent toggles must not panic or double-close.
	g.Resume()
	g.Pause()
	g.Pause()
	g.Resume()
}

func TestGateWaitHonorsContext(t *testing.T) {
	g := NewGate()
	g.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestBucketFIFO(t *testing.T) {
	// One token per 50ms, starting full with 1 token.
	b := newBucket(1, 50*time.Millisecond)

	if err := b.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := b.acquire(context.Background()); err != nil {
				t.Errorf("acquire %d: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)
		// Stagger arrivals so queue order is deterministic.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("tokens granted out of arrival order: %v", order)
		}
	}
}

func TestBucketAcquireCancel(t *testing.T) {
	b := newBucket(1, time.Hour)
	if err := b.acquire(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.acquire(ctx); err != context.DeadlineExceeded {
		t.Fatalf("acquire = %v, want deadline exceeded", err)
	}
}

func TestParseSpeedLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"100", 100, false},
		{"1024B", 1024, false},
		{"512KB", 512 * KB, false},
		{"512kb", 512 * KB, false},
		{"1M", MB, false},
		{"1.5MB", 1536 * KB, false},
		{"2.5gb", int64(2.5 * float64(GB)), false},
		{" 8MB ", 8 * MB, false},
		{"-1MB", 0, true},
		{"abc", 0, true},
		{"1TB", 0, true},
		{"MB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSpeedLimit(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSpeedLimit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseSpeedLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestByteBucketUnlimited(t *testing.T) {
	b := NewByteBucket(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := b.Acquire(context.Background(), 10 * int(MB)); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("unlimited bucket throttled: %v", elapsed)
	}
}

func TestByteBucketThrottles(t *testing.T) {
	b := NewByteBucket(1000) // 1000 B/s, bucket starts empty
	start := time.Now()
	if err := b.Acquire(context.Background(), 100); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("100 bytes at 1000 B/s from empty returned too fast: %v", elapsed)
	}
}

func TestGovernorDownloadSlots(t *testing.T) {
	g := New(Config{
		MaxSimultaneousDownloads:          2,
		MaxSimultaneousDownloadsPerDomain: 1,
	}, nil)

	rel1, err := g.AcquireDownloadSlot(context.Background(), "a.example")
	if err != nil {
		t.Fatalf("slot 1: %v", err)
	}
	// Same host is capped at 1.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	if _, err := g.AcquireDownloadSlot(ctx, "a.example"); err == nil {
		t.Fatal("second slot on same host should block")
	}
	cancel()

	// A different host still fits under the global cap.
	rel2, err := g.AcquireDownloadSlot(context.Background(), "b.example")
	if err != nil {
		t.Fatalf("slot on second host: %v", err)
	}

	// Global cap of 2 is now exhausted.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	if _, err := g.AcquireDownloadSlot(ctx2, "c.example"); err == nil {
		t.Fatal("third slot should exceed the global cap")
	}
	cancel2()

	rel1()
	rel2()
	rel3, err := g.AcquireDownloadSlot(context.Background(), "a.example")
	if err != nil {
		t.Fatalf("slot after release: %v", err)
	}
	rel3()
}

func TestGovernorHostRateOverride(t *testing.T) {
	g := New(Config{
		DefaultRate: HostRate{Capacity: 100, Period: time.Second},
		HostRates: map[string]HostRate{
			"slow.example": {Capacity: 1, Period: time.Hour},
		},
	}, nil)

	if err := g.Wait(context.Background(), "cdn.slow.example"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx, "cdn.slow.example"); err == nil {
		t.Fatal("second request within the hour should block")
	}
	// Other hosts use the roomy default.
	if err := g.Wait(context.Background(), "fast.example"); err != nil {
		t.Fatalf("default-rate host: %v", err)
	}
}

func TestGovernorWaitHonorsGate(t *testing.T) {
	gate := NewGate()
	g := New(Config{DefaultRate: HostRate{Capacity: 100, Period: time.Second}}, gate)
	gate.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx, "a.example"); err == nil {
		t.Fatal("Wait should block while the gate is paused")
	}
}

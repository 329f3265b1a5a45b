package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxnote/voxnote/pkg/audio"
)

// ramp returns n samples with values start, start+1, ... encoded as float32.
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingRoundTrip(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(64)
	r.Write(ramp(0, 40))

	got, err := r.Read(10, 30)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	for i, s := range got {
		if s != float32(10+i) {
			t.Fatalf("sample %d = %v, want %v", i, s, float32(10+i))
		}
	}
}

func TestRingRoundTripAcrossWrap(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(32)
	// 3 writes totalling 50 samples; the ring wraps once.
	r.Write(ramp(0, 20))
	r.Write(ramp(20, 20))
	r.Write(ramp(40, 10))

	if r.TotalWritten() != 50 {
		t.Fatalf("TotalWritten = %d, want 50", r.TotalWritten())
	}
	if r.EarliestRetained() != 18 {
		t.Fatalf("EarliestRetained = %d, want 18", r.EarliestRetained())
	}

	got, err := r.Read(30, 50)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, s := range got {
		if s != float32(30+i) {
			t.Fatalf("sample %d = %v, want %v", i, s, float32(30+i))
		}
	}
}

func TestRingReadClampsEvictedStart(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(16)
	r.Write(ramp(0, 40)) // retains positions 24..40

	got, err := r.Read(0, 30)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// Start clamped from 0 to 24.
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6 (clamped)", len(got))
	}
	if got[0] != 24 {
		t.Fatalf("first sample = %v, want 24", got[0])
	}
}

func TestRingReadBeyondWriteHead(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(16)
	r.Write(ramp(0, 8))

	if _, err := r.Read(0, 9); !errors.Is(err, audio.ErrFutureRead) {
		t.Fatalf("err = %v, want ErrFutureRead", err)
	}
}

func TestRingOversizedWriteKeepsTail(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(8)
	r.Write(ramp(0, 20))

	if r.TotalWritten() != 20 {
		t.Fatalf("TotalWritten = %d, want 20", r.TotalWritten())
	}
	got, err := r.Read(12, 20)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[0] != 12 || got[7] != 19 {
		t.Fatalf("tail = [%v..%v], want [12..19]", got[0], got[7])
	}
}

func TestRingWaitForSamplesSatisfied(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(64)
	done := make(chan error, 1)
	go func() {
		done <- r.WaitForSamples(context.Background(), 32, time.Second)
	}()

	// Two partial writes; only the second satisfies the target.
	time.Sleep(10 * time.Millisecond)
	r.Write(ramp(0, 16))
	time.Sleep(10 * time.Millisecond)
	r.Write(ramp(16, 16))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForSamples: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForSamples did not return")
	}
}

func TestRingWaitForSamplesAlreadySatisfied(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(64)
	r.Write(ramp(0, 32))
	if err := r.WaitForSamples(context.Background(), 10, time.Millisecond); err != nil {
		t.Fatalf("WaitForSamples: %v", err)
	}
}

func TestRingWaitForSamplesTimeout(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(64)
	err := r.WaitForSamples(context.Background(), 1000, 20*time.Millisecond)
	if !errors.Is(err, audio.ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
}

func TestRingWaitForSamplesContextCancel(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.WaitForSamples(ctx, 1000, time.Minute)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForSamples did not return after cancel")
	}
}

func TestRingResetFailsPendingWaiters(t *testing.T) {
	t.Parallel()

	r := audio.NewRing(64)
	done := make(chan error, 1)
	go func() {
		done <- r.WaitForSamples(context.Background(), 1000, time.Minute)
	}()
	time.Sleep(10 * time.Millisecond)
	r.Reset()

	select {
	case err := <-done:
		if !errors.Is(err, audio.ErrBufferReset) {
			t.Fatalf("err = %v, want ErrBufferReset", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter left hanging after Reset")
	}

	if r.TotalWritten() != 0 {
		t.Fatalf("TotalWritten after Reset = %d, want 0", r.TotalWritten())
	}
}

func TestRingCapacityDerivation(t *testing.T) {
	t.Parallel()

	// 30 s speech + 300 ms pre-roll + 500 ms post-pad + 2 s slack at 16 kHz.
	got := audio.RingCapacity(16000,
		30*time.Second, 300*time.Millisecond, 500*time.Millisecond, 2*time.Second)
	want := (30000 + 300 + 500 + 2000) * 16
	if got != want {
		t.Fatalf("RingCapacity = %d, want %d", got, want)
	}
}

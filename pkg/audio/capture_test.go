package audio_test

import (
	"errors"
	"testing"

	"github.com/voxnote/voxnote/pkg/audio"
)

func TestCaptureRefCounting(t *testing.T) {
	t.Parallel()

	var opens, closes int
	c := audio.NewCapture(
		func() error { opens++; return nil },
		func() error { closes++; return nil },
	)

	// VAD and an active recording both hold a reference.
	if err := c.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := c.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if opens != 1 {
		t.Fatalf("opens = %d, want 1", opens)
	}

	// First release keeps the resource alive.
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if closes != 0 {
		t.Fatalf("closed while a reference remained")
	}

	// Last release tears it down.
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}

	// Re-acquire reopens.
	if err := c.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if opens != 2 {
		t.Fatalf("opens = %d, want 2", opens)
	}
}

func TestCaptureOpenFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("device busy")
	c := audio.NewCapture(func() error { return boom }, nil)

	if err := c.Acquire(); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want device busy", err)
	}
	if c.Refs() != 0 {
		t.Fatalf("Refs = %d after failed open, want 0", c.Refs())
	}
}

func TestCaptureReleaseBelowZero(t *testing.T) {
	t.Parallel()

	c := audio.NewCapture(nil, nil)
	if err := c.Release(); err != nil {
		t.Fatalf("Release on zero refs: %v", err)
	}
}

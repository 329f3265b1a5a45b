package stt_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxnote/voxnote/pkg/provider/stt"
)

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	wav := stt.EncodeWAV(make([]float32, 160), 16000)

	if len(wav) != 44+320 {
		t.Fatalf("len = %d, want %d", len(wav), 44+320)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Fatalf("bits per sample = %d, want 16", bits)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); dataLen != 320 {
		t.Fatalf("data length = %d, want 320", dataLen)
	}
}

func TestEncodeWAVClampsOverdrive(t *testing.T) {
	t.Parallel()

	wav := stt.EncodeWAV([]float32{2.0, -2.0}, 16000)
	first := int16(binary.LittleEndian.Uint16(wav[44:46]))
	second := int16(binary.LittleEndian.Uint16(wav[46:48]))
	if first != 32767 {
		t.Fatalf("overdriven sample = %d, want 32767", first)
	}
	if second != -32767 {
		t.Fatalf("negative overdriven sample = %d, want -32767", second)
	}
}

func TestSegmentDurationSeconds(t *testing.T) {
	t.Parallel()

	seg := stt.Segment{Samples: make([]float32, 48000), SampleRate: 16000}
	if d := seg.DurationSeconds(); d != 3 {
		t.Fatalf("DurationSeconds = %v, want 3", d)
	}
	if d := (stt.Segment{}).DurationSeconds(); d != 0 {
		t.Fatalf("empty segment duration = %v, want 0", d)
	}
}

package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
)

func TestWriterProducesValidWAV(t *testing.T) {
	samples := []int{0, 1000, -1000, 32767, -32768, 42}
	pcm := IntsToPCM(samples)

	w := NewWriter(22050)
	// split mid-sample to exercise carry-over of the odd byte
	if _, err := w.Write(pcm[:3]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write(pcm[3:]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	out := w.Bytes()

	if len(out) != HeaderSize+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(pcm), len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers: %q", out[:12])
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); int(got) != len(out)-8 {
		t.Fatalf("riff size %d, want %d", got, len(out)-8)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); int(got) != len(pcm) {
		t.Fatalf("data size %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(out[HeaderSize:], pcm) {
		t.Fatal("payload differs from written pcm")
	}

	dec := wav.NewDecoder(bytes.NewReader(out))
	if !dec.IsValidFile() {
		t.Fatal("decoder rejected file")
	}
	if dec.SampleRate != 22050 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("unexpected format: rate=%d chans=%d bits=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode pcm: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i := range samples {
		if buf.Data[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], samples[i])
		}
	}
}

func TestWriterEmptyAudio(t *testing.T) {
	w := NewWriter(16000)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	out := w.Bytes()
	if len(out) != HeaderSize {
		t.Fatalf("expected bare header, got %d bytes", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Fatalf("sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 0 {
		t.Fatalf("data size %d, want 0", got)
	}
}

func TestWriterRejectsUnalignedPayload(t *testing.T) {
	w := NewWriter(16000)
	if _, err := w.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err == nil {
		t.Fatal("expected alignment error")
	}
	if _, err := w.Write([]byte{1, 2}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestIntsToPCMClamps(t *testing.T) {
	pcm := IntsToPCM([]int{40000, -40000})
	got := PCMToInts(pcm)
	if got[0] != 32767 || got[1] != -32768 {
		t.Fatalf("unexpected clamp result %v", got)
	}
}

// Package audio frames raw PCM produced by a voice into WAV containers.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// BitDepth is the sample width of every PCM stream handled here.
	BitDepth = 16
	// Channels is fixed to mono.
	Channels = 1
	// HeaderSize is the length of the canonical RIFF/WAVE header written
	// before the PCM payload.
	HeaderSize = 44

	pcmFormat = 1
)

// ErrClosed is returned when writing to a finalized Writer.
var ErrClosed = errors.New("wav writer closed")

// Writer accepts 16-bit little-endian mono PCM through Write and produces a
// complete in-memory WAV file on Close. Writes need not be sample aligned.
type Writer struct {
	buf     *seekBuffer
	enc     *wav.Encoder
	format  *goaudio.Format
	pending []byte
	started bool
	closed  bool
}

// NewWriter returns a Writer for mono 16-bit PCM at sampleRate.
func NewWriter(sampleRate int) *Writer {
	buf := &seekBuffer{}
	return &Writer{
		buf:    buf,
		enc:    wav.NewEncoder(buf, sampleRate, BitDepth, Channels, pcmFormat),
		format: &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	data := p
	if len(w.pending) > 0 {
		data = append(w.pending, p...)
		w.pending = nil
	}
	even := len(data) &^ 1
	if even < len(data) {
		w.pending = []byte{data[even]}
	}
	if err := w.encode(data[:even]); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *Writer) encode(pcm []byte) error {
	buf := &goaudio.IntBuffer{Format: w.format, Data: PCMToInts(pcm), SourceBitDepth: BitDepth}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	w.started = true
	return nil
}

// Close fixes up the header length fields. The Writer rejects further writes
// afterwards; Bytes stays valid.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.pending) != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	if !w.started {
		if err := w.encode(nil); err != nil {
			return err
		}
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Bytes returns the container written so far. It is only a valid WAV file
// after Close.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// PCMToInts widens little-endian int16 samples. A trailing odd byte is ignored.
func PCMToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// IntsToPCM narrows samples to little-endian int16, clamping out-of-range values.
func IntsToPCM(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

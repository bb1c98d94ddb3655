package tts

import (
	"context"
	"io"
)

// Voice is a loaded synthesis engine. Implementations must tolerate
// concurrent calls; wrap with Limit when the engine is not reentrant.
type Voice interface {
	// SampleRate of the PCM the voice produces.
	SampleRate() int

	// Synthesize renders the whole utterance as 16-bit little-endian mono
	// PCM into sink, in order.
	Synthesize(ctx context.Context, text string, params Params, sink io.Writer) error

	// Stream starts a lazy synthesis. The caller must Close the stream.
	Stream(ctx context.Context, text string, params Params) (Stream, error)
}

// Stream is a single-pass, pull-based sequence of PCM chunks. Recv returns
// io.EOF once the voice has produced everything. Close releases the
// underlying synthesis work and may be called at any point.
type Stream interface {
	Recv() ([]byte, error)
	Close() error
}

// Drain copies every chunk of s into w. It does not close s.
func Drain(s Stream, w io.Writer) error {
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
}

package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// CleanText trims text and rejects it when nothing is left.
func CleanText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	return trimmed, nil
}

// BuildWAV synthesizes text fully and returns a finalized WAV container.
func BuildWAV(ctx context.Context, v Voice, text string, params Params) ([]byte, error) {
	text, err := CleanText(text)
	if err != nil {
		return nil, err
	}
	w := audio.NewWriter(v.SampleRate())
	if err := v.Synthesize(ctx, text, params, w); err != nil {
		return nil, wrapSynthesis("synthesize", err)
	}
	if err := w.Close(); err != nil {
		return nil, &SynthesisError{Op: "finalize", Cause: err}
	}
	return w.Bytes(), nil
}

// OpenPCM starts a raw PCM stream for text. No container bytes are added.
func OpenPCM(ctx context.Context, v Voice, text string, params Params) (Stream, error) {
	text, err := CleanText(text)
	if err != nil {
		return nil, err
	}
	s, err := v.Stream(ctx, text, params)
	if err != nil {
		return nil, wrapSynthesis("stream", err)
	}
	return s, nil
}

// PCMContentType describes the raw stream emitted by a voice at sampleRate.
func PCMContentType(sampleRate int) string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", sampleRate, audio.Channels)
}

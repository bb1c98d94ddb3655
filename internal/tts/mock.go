package tts

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

const (
	mockSecondsPerRune = 0.02
	mockBaseFrequency  = 220.0
	mockSpeakerStep    = 30.0
	mockAmplitude      = 8000.0

	// mockMaxSentenceSeconds bounds the audio rendered for one sentence.
	mockMaxSentenceSeconds = 600
)

// MockVoice renders one deterministic tone per sentence followed by
// sentence_silence seconds of silence. It needs no model files.
type MockVoice struct {
	sampleRate int
}

func NewMockVoice(sampleRate int) *MockVoice {
	return &MockVoice{sampleRate: sampleRate}
}

func (m *MockVoice) SampleRate() int { return m.sampleRate }

func (m *MockVoice) Synthesize(ctx context.Context, text string, params Params, sink io.Writer) error {
	s, err := m.Stream(ctx, text, params)
	if err != nil {
		return err
	}
	defer s.Close()
	return Drain(s, sink)
}

func (m *MockVoice) Stream(ctx context.Context, text string, params Params) (Stream, error) {
	return &mockStream{ctx: ctx, voice: m, sentences: SplitSentences(text), params: params}, nil
}

func (m *MockVoice) render(sentence string, p Params) ([]byte, error) {
	lengthScale := 1.0
	if p.LengthScale != nil {
		lengthScale = *p.LengthScale
	}
	freq := mockBaseFrequency
	if p.SpeakerID != nil {
		freq += mockSpeakerStep * float64(*p.SpeakerID)
	}
	toneSeconds := math.Max(float64(len([]rune(sentence)))*mockSecondsPerRune*lengthScale, 0)
	silenceSeconds := 0.0
	if p.SentenceSilence != nil {
		silenceSeconds = math.Max(*p.SentenceSilence, 0)
	}
	if total := toneSeconds + silenceSeconds; total > mockMaxSentenceSeconds {
		return nil, &SynthesisError{Op: "render", Cause: fmt.Errorf("sentence needs %gs of audio, limit is %ds", total, mockMaxSentenceSeconds)}
	}
	n := int(math.Round(toneSeconds * float64(m.sampleRate)))
	silence := int(math.Round(silenceSeconds * float64(m.sampleRate)))
	samples := make([]int, n+silence)
	for i := 0; i < n; i++ {
		samples[i] = int(mockAmplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}
	return audio.IntsToPCM(samples), nil
}

type mockStream struct {
	ctx       context.Context
	voice     *MockVoice
	sentences []string
	params    Params
	next      int
	closed    bool
}

func (s *mockStream) Recv() ([]byte, error) {
	if s.closed || s.next >= len(s.sentences) {
		return nil, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	chunk, err := s.voice.render(s.sentences[s.next], s.params)
	if err != nil {
		return nil, err
	}
	s.next++
	return chunk, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

// SplitSentences breaks text after '.', '!' or '?' runs followed by
// whitespace. Empty fragments are dropped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminal(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			if s := strings.TrimSpace(string(runes[start : j+1])); s != "" {
				out = append(out, s)
			}
			start = j + 1
		}
		i = j
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

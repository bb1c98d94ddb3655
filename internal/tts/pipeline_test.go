package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/voices"
)

type failingVoice struct {
	MockVoice
	after int
}

func (f *failingVoice) Synthesize(ctx context.Context, text string, params Params, sink io.Writer) error {
	return errors.New("engine crashed")
}

func (f *failingVoice) Stream(ctx context.Context, text string, params Params) (Stream, error) {
	inner, _ := f.MockVoice.Stream(ctx, text, params)
	return &failAfter{Stream: inner, left: f.after}, nil
}

type failAfter struct {
	Stream
	left int
}

func (f *failAfter) Recv() ([]byte, error) {
	if f.left == 0 {
		return nil, &SynthesisError{Op: "read", Cause: errors.New("engine crashed")}
	}
	f.left--
	return f.Stream.Recv()
}

func collect(t *testing.T, s Stream) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Drain(s, &buf); err != nil {
		t.Fatalf("drain: %v", err)
	}
	return buf.Bytes()
}

func TestBuildWAVMatchesStream(t *testing.T) {
	voice := NewMockVoice(22050)
	params := Params{SentenceSilence: floatPtr(0.1), SpeakerID: intPtr(1)}
	text := "Hello world. How are you?"

	wav, err := BuildWAV(context.Background(), voice, text, params)
	if err != nil {
		t.Fatalf("build wav: %v", err)
	}
	s, err := OpenPCM(context.Background(), voice, text, params)
	if err != nil {
		t.Fatalf("open pcm: %v", err)
	}
	defer s.Close()
	pcm := collect(t, s)

	if len(pcm) == 0 {
		t.Fatal("expected audio")
	}
	if !bytes.Equal(wav[audio.HeaderSize:], pcm) {
		t.Fatal("stream payload differs from wav payload")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 22050 {
		t.Fatalf("wav sample rate %d", got)
	}
	if bytes.HasPrefix(pcm, []byte("RIFF")) {
		t.Fatal("stream must not carry a container header")
	}
}

func TestEmptyTextRejectedBeforeVoice(t *testing.T) {
	voice := &failingVoice{MockVoice: *NewMockVoice(16000)}
	if _, err := BuildWAV(context.Background(), voice, "  \n\t", Params{}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := OpenPCM(context.Background(), voice, "", Params{}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestBuildWAVWrapsVoiceFailure(t *testing.T) {
	voice := &failingVoice{MockVoice: *NewMockVoice(16000)}
	_, err := BuildWAV(context.Background(), voice, "Hi.", Params{})
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected SynthesisError, got %v", err)
	}
}

func TestStreamFailurePropagatesAtPull(t *testing.T) {
	voice := &failingVoice{MockVoice: *NewMockVoice(16000), after: 1}
	s, err := OpenPCM(context.Background(), voice, "One. Two. Three.", Params{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if chunk, err := s.Recv(); err != nil || len(chunk) == 0 {
		t.Fatalf("first pull should succeed, got %d bytes, %v", len(chunk), err)
	}
	_, err = s.Recv()
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected SynthesisError on second pull, got %v", err)
	}
}

func TestMockSentenceSilence(t *testing.T) {
	voice := NewMockVoice(1000)
	s, _ := voice.Stream(context.Background(), "Hi. Yo.", Params{SentenceSilence: floatPtr(0.5)})
	defer s.Close()
	first, err := s.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	// "Hi." is 3 runes at 20ms each plus 500ms of silence, at 1kHz
	if want := (60 + 500) * 2; len(first) != want {
		t.Fatalf("first chunk %d bytes, want %d", len(first), want)
	}
	tail := first[len(first)-1000:]
	if !bytes.Equal(tail, make([]byte, 1000)) {
		t.Fatal("expected trailing silence")
	}
}

func TestMockStreamHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := NewMockVoice(8000).Stream(ctx, "One. Two.", Params{})
	defer s.Close()
	cancel()
	if _, err := s.Recv(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSplitSentences(t *testing.T) {
	cases := map[string][]string{
		"Hello world.":              {"Hello world."},
		"One. Two!  Three?":         {"One.", "Two!", "Three?"},
		"Version 1.5 is out... Yes": {"Version 1.5 is out...", "Yes"},
		"   ":                       nil,
	}
	for in, want := range cases {
		if got := SplitSentences(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("SplitSentences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPCMContentType(t *testing.T) {
	if got := PCMContentType(22050); got != "audio/L16; rate=22050; channels=1" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestLoadPrefersModelSampleRate(t *testing.T) {
	var model voices.Model
	model.Config.Audio.SampleRate = 16000
	v, err := Load(config.VoiceConfig{Mode: "mock", SampleRate: 22050, MaxConcurrency: 2}, model)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v.SampleRate() != 16000 {
		t.Fatalf("sample rate %d", v.SampleRate())
	}
	if _, err := Load(config.VoiceConfig{Mode: "onnx"}, model); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLoadBoundsOnlyWhenConfigured(t *testing.T) {
	open := func(v Voice, n int) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var streams []Stream
		defer func() {
			for _, s := range streams {
				s.Close()
			}
		}()
		for i := 0; i < n; i++ {
			s, err := v.Stream(ctx, "Slow client.", Params{})
			if err != nil {
				return err
			}
			streams = append(streams, s)
		}
		return nil
	}

	unbounded, err := Load(config.VoiceConfig{Mode: "mock", SampleRate: 8000}, voices.Model{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := open(unbounded, 16); err != nil {
		t.Fatalf("open streams should not block each other: %v", err)
	}

	bounded, err := Load(config.VoiceConfig{Mode: "mock", SampleRate: 8000, MaxConcurrency: 1, QueueTimeoutMS: 10}, voices.Model{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := open(bounded, 2); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from a bounded voice, got %v", err)
	}
}

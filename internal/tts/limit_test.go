package tts

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimitStreamHoldsSlotUntilClose(t *testing.T) {
	voice := Limit(NewMockVoice(8000), 1, 0)

	first, err := voice.Stream(context.Background(), "One.", Params{})
	if err != nil {
		t.Fatalf("first stream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := voice.Stream(ctx, "Two.", Params{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while slot held, got %v", err)
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatal("acquire should have waited for the deadline")
	}

	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// a second Close must not release the slot twice
	_ = first.Close()

	second, err := voice.Stream(context.Background(), "Two.", Params{})
	if err != nil {
		t.Fatalf("stream after close: %v", err)
	}
	defer second.Close()
}

func TestLimitSynthesizeReleasesSlot(t *testing.T) {
	voice := Limit(NewMockVoice(8000), 1, 0)
	for i := 0; i < 3; i++ {
		var buf bytes.Buffer
		if err := voice.Synthesize(context.Background(), "Hello.", Params{}, &buf); err != nil {
			t.Fatalf("synthesize %d: %v", i, err)
		}
		if buf.Len() == 0 {
			t.Fatal("expected audio")
		}
	}
}

func TestLimitWaitIsShorterThanRequest(t *testing.T) {
	voice := Limit(NewMockVoice(8000), 1, 20*time.Millisecond)
	held, err := voice.Stream(context.Background(), "One.", Params{})
	if err != nil {
		t.Fatalf("hold slot: %v", err)
	}
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	start := time.Now()
	if _, err := voice.Stream(ctx, "Two.", Params{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if waited := time.Since(start); waited > 5*time.Second {
		t.Fatalf("waited %v for a slot", waited)
	}
	if ctx.Err() != nil {
		t.Fatal("request context should still be live")
	}
}

func TestLimitKeepsSampleRate(t *testing.T) {
	if got := Limit(NewMockVoice(22050), 0, 0).SampleRate(); got != 22050 {
		t.Fatalf("sample rate %d", got)
	}
}

func TestBusyIsNotWrappedAsSynthesisFailure(t *testing.T) {
	voice := Limit(NewMockVoice(8000), 1, 0)
	held, _ := voice.Stream(context.Background(), "One.", Params{})
	defer held.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildWAV(ctx, voice, "Two.", Params{})
	var se *SynthesisError
	if !errors.Is(err, ErrBusy) || errors.As(err, &se) {
		t.Fatalf("expected bare ErrBusy, got %v", err)
	}
}

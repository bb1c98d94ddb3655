package tts

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type limitedVoice struct {
	Voice
	sem  *semaphore.Weighted
	wait time.Duration
}

// Limit bounds the number of in-flight syntheses on v to n. A buffered call
// holds its slot until it returns, a stream until it is closed. n <= 1
// serializes access. A caller waits at most wait for a slot (0 waits as long
// as its context allows) before getting ErrBusy.
func Limit(v Voice, n int, wait time.Duration) Voice {
	if n < 1 {
		n = 1
	}
	return &limitedVoice{Voice: v, sem: semaphore.NewWeighted(int64(n)), wait: wait}
}

func (l *limitedVoice) acquire(ctx context.Context) error {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return nil
}

func (l *limitedVoice) Synthesize(ctx context.Context, text string, params Params, sink io.Writer) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return l.Voice.Synthesize(ctx, text, params, sink)
}

func (l *limitedVoice) Stream(ctx context.Context, text string, params Params) (Stream, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	s, err := l.Voice.Stream(ctx, text, params)
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return &releasingStream{Stream: s, release: sync.OnceFunc(func() { l.sem.Release(1) })}, nil
}

type releasingStream struct {
	Stream
	release func()
}

func (s *releasingStream) Close() error {
	err := s.Stream.Close()
	s.release()
	return err
}

package tts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service answers synthesis requests published on the bus with the same
// pipeline the HTTP front uses.
type Service struct {
	bus      *bus.Client
	voice    Voice
	defaults Params
	timeout  time.Duration
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	// mu orders wg.Add in callbacks against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewService(parent context.Context, busClient *bus.Client, voice Voice, defaults Params, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		voice:    voice,
		defaults: defaults,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectTTSRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Close stops accepting requests and waits for in-flight ones to finish.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.sub.IsValid() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("dropping tts request after close", slog.String("session_id", req.SessionID))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		status := s.run(req)
		status.Timestamp = time.Now().UTC()
		s.publish(protocol.SubjectTTSDone, status)
	}()
}

func (s *Service) run(req protocol.TTSRequest) protocol.TTSStatus {
	status := protocol.TTSStatus{SessionID: req.SessionID, Target: req.Target}
	fail := func(err error) protocol.TTSStatus {
		s.logger.Warn("tts request failed",
			slog.String("session_id", req.SessionID),
			slogError(err))
		status.Error = err.Error()
		return status
	}

	params, err := Resolve(s.defaults, requestOverrides(req))
	if err != nil {
		return fail(err)
	}

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stream, err := OpenPCM(ctx, s.voice, req.Text, params)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fail(err)
		}
		s.publish(protocol.SubjectTTSAudio, protocol.AudioChunk{
			SessionID:  req.SessionID,
			Target:     req.Target,
			Sequence:   status.Chunks,
			SampleRate: s.voice.SampleRate(),
			Channels:   audio.Channels,
			PCM:        chunk,
		})
		status.Chunks++
		status.Bytes += len(chunk)
	}
	status.Completed = true
	return status
}

func (s *Service) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal tts message", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish tts message", slog.String("subject", subject), slogError(err))
	}
}

func requestOverrides(req protocol.TTSRequest) Overrides {
	out := Overrides{}
	if req.SpeakerID != nil {
		out[FieldSpeakerID] = *req.SpeakerID
	}
	if req.LengthScale != nil {
		out[FieldLengthScale] = *req.LengthScale
	}
	if req.NoiseScale != nil {
		out[FieldNoiseScale] = *req.NoiseScale
	}
	if req.NoiseW != nil {
		out[FieldNoiseW] = *req.NoiseW
	}
	if req.SentenceSilence != nil {
		out[FieldSentenceSilence] = *req.SentenceSilence
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

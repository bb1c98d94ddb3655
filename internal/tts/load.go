package tts

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/voices"
)

// Load builds the configured voice for a resolved model. Both voices run one
// synthesis per call independently, so they are only bounded when
// cfg.MaxConcurrency is positive. The model may be zero in mock mode.
func Load(cfg config.VoiceConfig, model voices.Model) (Voice, error) {
	sampleRate := cfg.SampleRate
	if model.Config.Audio.SampleRate > 0 {
		sampleRate = model.Config.Audio.SampleRate
	}

	var voice Voice
	switch cfg.Mode {
	case "mock":
		if sampleRate <= 0 {
			return nil, fmt.Errorf("mock voice requires a sample rate")
		}
		voice = NewMockVoice(sampleRate)
	case "exec", "":
		ev, err := NewExecVoice(ExecOptions{
			Command:     cfg.Command,
			Model:       model.ModelPath,
			ModelConfig: model.ConfigPath,
			UseCUDA:     cfg.UseCUDA,
			SampleRate:  sampleRate,
		})
		if err != nil {
			return nil, err
		}
		voice = ev
	default:
		return nil, fmt.Errorf("unsupported voice mode %q", cfg.Mode)
	}
	if cfg.MaxConcurrency > 0 {
		voice = Limit(voice, cfg.MaxConcurrency, time.Duration(cfg.QueueTimeoutMS)*time.Millisecond)
	}
	return voice, nil
}

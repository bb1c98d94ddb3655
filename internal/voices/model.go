package voices

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Model is a voice ready to load: the onnx weights plus the parsed
// config that describes its output.
type Model struct {
	Name       string
	ModelPath  string
	ConfigPath string
	Config     ModelConfig
}

// ModelConfig is the subset of a piper .onnx.json the server relies on.
type ModelConfig struct {
	Dataset      string          `json:"dataset,omitempty"`
	Audio        AudioConfig     `json:"audio"`
	NumSpeakers  int             `json:"num_speakers"`
	SpeakerIDMap map[string]int  `json:"speaker_id_map,omitempty"`
	Inference    InferenceConfig `json:"inference"`
}

type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Quality    string `json:"quality,omitempty"`
}

// InferenceConfig holds the voice's own synthesis defaults.
type InferenceConfig struct {
	NoiseScale  float64 `json:"noise_scale"`
	LengthScale float64 `json:"length_scale"`
	NoiseW      float64 `json:"noise_w"`
}

func LoadModelConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ModelConfig{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if cfg.Audio.SampleRate <= 0 {
		return ModelConfig{}, fmt.Errorf("model config %s: audio.sample_rate must be positive", path)
	}
	if cfg.NumSpeakers <= 0 {
		cfg.NumSpeakers = 1
	}
	return cfg, nil
}

// Speakers lists speaker names ordered by id.
func (c ModelConfig) Speakers() []string {
	names := make([]string, 0, len(c.SpeakerIDMap))
	for name := range c.SpeakerIDMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return c.SpeakerIDMap[names[i]] < c.SpeakerIDMap[names[j]]
	})
	return names
}

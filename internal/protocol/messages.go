package protocol

import "time"

// TTSRequest asks the voice service to speak Text. The synthesis fields
// follow the HTTP overrides: a missing or null field keeps the server default.
type TTSRequest struct {
	SessionID       string   `json:"session_id"`
	Target          string   `json:"target,omitempty"`
	Text            string   `json:"text"`
	SpeakerID       *int     `json:"speaker_id,omitempty"`
	LengthScale     *float64 `json:"length_scale,omitempty"`
	NoiseScale      *float64 `json:"noise_scale,omitempty"`
	NoiseW          *float64 `json:"noise_w,omitempty"`
	SentenceSilence *float64 `json:"sentence_silence,omitempty"`
}

// AudioChunk carries raw 16-bit little-endian PCM for one session.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
}

// TTSStatus is published once per request after the last chunk.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Completed bool      `json:"completed"`
	Chunks    int       `json:"chunks"`
	Bytes     int       `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Voice       VoiceConfig     `yaml:"voice"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Journal     JournalConfig   `yaml:"journal"`
	Bus         BusConfig       `yaml:"bus"`
}

// VoiceConfig selects and loads the voice model served by the process.
type VoiceConfig struct {
	Mode             string   `yaml:"mode"` // exec, mock
	Command          string   `yaml:"command"`
	Model            string   `yaml:"model"`
	ModelConfig      string   `yaml:"model_config"`
	DataDirs         []string `yaml:"data_dirs"`
	DownloadDir      string   `yaml:"download_dir"`
	UpdateVoices     bool     `yaml:"update_voices"`
	URLBase          string   `yaml:"url_base"`
	UseCUDA          bool     `yaml:"use_cuda"`
	SampleRate       int      `yaml:"sample_rate"`
	MaxConcurrency   int      `yaml:"max_concurrency"` // 0 = unbounded
	QueueTimeoutMS   int      `yaml:"queue_timeout_ms"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"`
}

// SynthesisConfig holds server-wide synthesis defaults. A nil field defers
// to the voice's own default.
type SynthesisConfig struct {
	SpeakerID       *int     `yaml:"speaker_id"`
	LengthScale     *float64 `yaml:"length_scale"`
	NoiseScale      *float64 `yaml:"noise_scale"`
	NoiseW          *float64 `yaml:"noise_w"`
	SentenceSilence *float64 `yaml:"sentence_silence"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	silence := 0.0
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:         "0.0.0.0",
			Port:         5000,
			MaxBodyBytes: 1 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Voice: VoiceConfig{
			Mode:             "exec",
			Command:          "piper",
			DataDirs:         []string{"."},
			URLBase:          "https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0",
			SampleRate:       22050,
			QueueTimeoutMS:   5000,
			RequestTimeoutMS: 60000,
		},
		Synthesis: SynthesisConfig{
			SentenceSilence: &silence,
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          "./data/loqa-voice.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxEntries:    100000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

// Load reads path (if any) over the defaults, applies LOQA_* overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that layer more settings
// (command line flags) on top before validating.
func Read(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadEnvFile populates the process environment from a dotenv file without
// replacing variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideInt64(&cfg.HTTP.MaxBodyBytes, "LOQA_HTTP_MAX_BODY_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Voice.Mode, "LOQA_VOICE_MODE")
	overrideString(&cfg.Voice.Command, "LOQA_VOICE_COMMAND")
	overrideString(&cfg.Voice.Model, "LOQA_VOICE_MODEL")
	overrideString(&cfg.Voice.ModelConfig, "LOQA_VOICE_MODEL_CONFIG")
	overrideStringSlice(&cfg.Voice.DataDirs, "LOQA_VOICE_DATA_DIRS")
	overrideString(&cfg.Voice.DownloadDir, "LOQA_VOICE_DOWNLOAD_DIR")
	overrideBool(&cfg.Voice.UpdateVoices, "LOQA_VOICE_UPDATE_VOICES")
	overrideString(&cfg.Voice.URLBase, "LOQA_VOICE_URL_BASE")
	overrideBool(&cfg.Voice.UseCUDA, "LOQA_VOICE_USE_CUDA")
	overrideInt(&cfg.Voice.SampleRate, "LOQA_VOICE_SAMPLE_RATE")
	overrideInt(&cfg.Voice.MaxConcurrency, "LOQA_VOICE_MAX_CONCURRENCY")
	overrideInt(&cfg.Voice.QueueTimeoutMS, "LOQA_VOICE_QUEUE_TIMEOUT_MS")
	overrideInt(&cfg.Voice.RequestTimeoutMS, "LOQA_VOICE_REQUEST_TIMEOUT_MS")
	overrideIntPtr(&cfg.Synthesis.SpeakerID, "LOQA_SYNTHESIS_SPEAKER_ID")
	overrideFloatPtr(&cfg.Synthesis.LengthScale, "LOQA_SYNTHESIS_LENGTH_SCALE")
	overrideFloatPtr(&cfg.Synthesis.NoiseScale, "LOQA_SYNTHESIS_NOISE_SCALE")
	overrideFloatPtr(&cfg.Synthesis.NoiseW, "LOQA_SYNTHESIS_NOISE_W")
	overrideFloatPtr(&cfg.Synthesis.SentenceSilence, "LOQA_SYNTHESIS_SENTENCE_SILENCE")
	overrideBool(&cfg.Journal.Enabled, "LOQA_JOURNAL_ENABLED")
	overrideString(&cfg.Journal.Path, "LOQA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxEntries, "LOQA_JOURNAL_MAX_ENTRIES")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// overrideIntPtr and overrideFloatPtr treat an empty value as "unset".
func overrideIntPtr(target **int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if strings.TrimSpace(value) == "" {
			*target = nil
			return
		}
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = &parsed
		}
	}
}

func overrideFloatPtr(target **float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if strings.TrimSpace(value) == "" {
			*target = nil
			return
		}
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = &parsed
		}
	}
}

// Validate reports the first invalid setting in cfg.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	switch cfg.Voice.Mode {
	case "exec":
		if strings.TrimSpace(cfg.Voice.Command) == "" {
			return errors.New("voice.command must be set when mode=exec")
		}
		if strings.TrimSpace(cfg.Voice.Model) == "" {
			return errors.New("voice.model must be set when mode=exec")
		}
	case "mock":
		if cfg.Voice.SampleRate <= 0 {
			return errors.New("voice.sample_rate must be positive")
		}
	default:
		return errors.New("voice.mode must be one of exec|mock")
	}
	if cfg.Voice.MaxConcurrency < 0 {
		return errors.New("voice.max_concurrency must be >= 0")
	}
	if cfg.Voice.QueueTimeoutMS < 0 {
		return errors.New("voice.queue_timeout_ms must be >= 0")
	}
	if cfg.Voice.RequestTimeoutMS < 0 {
		return errors.New("voice.request_timeout_ms must be >= 0")
	}
	if err := validateSynthesis(cfg.Synthesis); err != nil {
		return err
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when the journal is enabled")
		}
		switch cfg.Journal.RetentionMode {
		case "ephemeral", "persistent":
		default:
			return errors.New("journal.retention_mode must be one of ephemeral|persistent")
		}
		if cfg.Journal.RetentionDays < 0 {
			return errors.New("journal.retention_days must be >= 0")
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}

func validateSynthesis(s SynthesisConfig) error {
	if s.SpeakerID != nil && *s.SpeakerID < 0 {
		return errors.New("synthesis.speaker_id must be >= 0")
	}
	if s.LengthScale != nil && *s.LengthScale <= 0 {
		return errors.New("synthesis.length_scale must be positive")
	}
	if s.NoiseScale != nil && *s.NoiseScale < 0 {
		return errors.New("synthesis.noise_scale must be >= 0")
	}
	if s.NoiseW != nil && *s.NoiseW < 0 {
		return errors.New("synthesis.noise_w must be >= 0")
	}
	if s.SentenceSilence != nil && *s.SentenceSilence < 0 {
		return errors.New("synthesis.sentence_silence must be >= 0")
	}
	return nil
}

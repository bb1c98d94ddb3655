package main

import (
	"io"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func TestFlagsOverrideOnlyWhatIsSet(t *testing.T) {
	flags, err := parseFlags([]string{"--port", "5100", "-m", "en_US-lessac-medium", "--noise_w", "0"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	flags.apply(&cfg)

	if cfg.HTTP.Port != 5100 || cfg.Voice.Model != "en_US-lessac-medium" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.HTTP.Bind != "127.0.0.1" {
		t.Fatalf("unset --host replaced bind with %q", cfg.HTTP.Bind)
	}
	if cfg.Synthesis.NoiseW == nil || *cfg.Synthesis.NoiseW != 0 {
		t.Fatalf("explicit zero noise_w lost: %v", cfg.Synthesis.NoiseW)
	}
	if cfg.Synthesis.LengthScale != nil {
		t.Fatalf("unset length_scale became %v", *cfg.Synthesis.LengthScale)
	}
}

func TestFlagAliases(t *testing.T) {
	args := []string{
		"--length_scale", "1.2",
		"--sentence-silence", "0.5",
		"-s", "2",
		"--data-dir", "/a",
		"--data_dir", "/b",
		"--download_dir", "/dl",
		"--update-voices",
		"--debug",
	}
	flags, err := parseFlags(args, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	flags.apply(&cfg)

	if *cfg.Synthesis.LengthScale != 1.2 || *cfg.Synthesis.SentenceSilence != 0.5 || *cfg.Synthesis.SpeakerID != 2 {
		t.Fatalf("unexpected synthesis config %+v", cfg.Synthesis)
	}
	if got := cfg.Voice.DataDirs; len(got) != 3 || got[0] != "." || got[1] != "/a" || got[2] != "/b" {
		t.Fatalf("data dirs should append to defaults, got %v", got)
	}
	if cfg.Voice.DownloadDir != "/dl" || !cfg.Voice.UpdateVoices {
		t.Fatalf("unexpected voice config %+v", cfg.Voice)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %s", cfg.Telemetry.LogLevel)
	}
}

func TestFlagsRejectBadNumbers(t *testing.T) {
	if _, err := parseFlags([]string{"--speaker", "two"}, io.Discard); err == nil {
		t.Fatal("expected error for non-integer speaker")
	}
	if _, err := parseFlags([]string{"--noise-scale", "loud"}, io.Discard); err == nil {
		t.Fatal("expected error for non-numeric noise scale")
	}
}

func TestLogLevel(t *testing.T) {
	if logLevel("DEBUG").String() != "DEBUG" || logLevel("warning").String() != "WARN" || logLevel("").String() != "INFO" {
		t.Fatal("unexpected level mapping")
	}
}

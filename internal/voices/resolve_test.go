package voices

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
)

const testModelConfig = `{
  "dataset": "lessac",
  "audio": {"sample_rate": 22050, "quality": "medium"},
  "num_speakers": 2,
  "speaker_id_map": {"b": 1, "a": 0},
  "inference": {"noise_scale": 0.667, "length_scale": 1, "noise_w": 0.8}
}`

type voiceServer struct {
	*httptest.Server
	files map[string]string
	hits  atomic.Int32
}

func newVoiceServer(t *testing.T, corrupt bool) *voiceServer {
	t.Helper()
	onnx := "fake onnx weights"
	files := map[string]string{
		"en/en_US/lessac/medium/en_US-lessac-medium.onnx":      onnx,
		"en/en_US/lessac/medium/en_US-lessac-medium.onnx.json": testModelConfig,
	}
	entry := VoiceInfo{Key: "en_US-lessac-medium", Files: map[string]FileInfo{}, Aliases: []string{"en-us-lessac-medium"}}
	for name, body := range files {
		sum := md5.Sum([]byte(body))
		entry.Files[name] = FileInfo{SizeBytes: int64(len(body)), MD5Digest: hex.EncodeToString(sum[:])}
	}
	if corrupt {
		files["en/en_US/lessac/medium/en_US-lessac-medium.onnx"] = "tampered weights!"
	}
	catalog, _ := json.Marshal(map[string]VoiceInfo{"en_US-lessac-medium": entry})
	files["voices.json"] = string(catalog)

	vs := &voiceServer{files: files}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vs.hits.Add(1)
		body, ok := vs.files[strings.TrimPrefix(r.URL.Path, "/v1/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(vs.Close)
	return vs
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveDownloadsCatalogVoice(t *testing.T) {
	srv := newVoiceServer(t, false)
	dir := t.TempDir()
	cfg := config.VoiceConfig{Model: "en_US-lessac-medium", DataDirs: []string{dir}, URLBase: srv.URL + "/v1"}

	model, err := NewResolver(cfg, srv.Client(), testLogger()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if model.ModelPath != filepath.Join(dir, "en_US-lessac-medium.onnx") {
		t.Fatalf("unexpected model path %s", model.ModelPath)
	}
	if model.Config.Audio.SampleRate != 22050 || model.Config.NumSpeakers != 2 {
		t.Fatalf("unexpected config %+v", model.Config)
	}
	if _, err := os.Stat(filepath.Join(dir, "voices.json")); err != nil {
		t.Fatalf("catalog not cached: %v", err)
	}

	// second resolve finds everything on disk and verified
	before := srv.hits.Load()
	if _, err := NewResolver(cfg, srv.Client(), testLogger()).Resolve(context.Background()); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if srv.hits.Load() != before {
		t.Fatal("expected no downloads on second resolve")
	}
}

func TestResolveAlias(t *testing.T) {
	srv := newVoiceServer(t, false)
	dir := t.TempDir()
	cfg := config.VoiceConfig{Model: "en-us-lessac-medium", DataDirs: []string{dir}, URLBase: srv.URL + "/v1"}
	model, err := NewResolver(cfg, srv.Client(), testLogger()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if model.Name != "en_US-lessac-medium" {
		t.Fatalf("alias should resolve to canonical key, got %s", model.Name)
	}
}

func TestResolveRejectsChecksumMismatch(t *testing.T) {
	srv := newVoiceServer(t, true)
	dir := t.TempDir()
	cfg := config.VoiceConfig{Model: "en_US-lessac-medium", DataDirs: []string{dir}, URLBase: srv.URL + "/v1"}
	_, err := NewResolver(cfg, srv.Client(), testLogger()).Resolve(context.Background())
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "en_US-lessac-medium.onnx")); !os.IsNotExist(err) {
		t.Fatal("corrupt download must not be kept")
	}
}

func TestResolveUnknownVoice(t *testing.T) {
	srv := newVoiceServer(t, false)
	cfg := config.VoiceConfig{Model: "xx_XX-nobody-low", DataDirs: []string{t.TempDir()}, URLBase: srv.URL + "/v1"}
	if _, err := NewResolver(cfg, srv.Client(), testLogger()).Resolve(context.Background()); !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("expected ErrUnknownVoice, got %v", err)
	}
}

func TestResolveLocalFile(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "custom.onnx")
	if err := os.WriteFile(modelPath, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(modelPath+".json", []byte(testModelConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.VoiceConfig{Model: modelPath, URLBase: "http://127.0.0.1:1/unused"}
	model, err := NewResolver(cfg, nil, testLogger()).Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if model.Name != "custom" || model.ConfigPath != modelPath+".json" {
		t.Fatalf("unexpected model %+v", model)
	}
	if got := model.Config.Speakers(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected speakers %v", got)
	}
}

func TestLoadModelConfigRequiresSampleRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.onnx.json")
	if err := os.WriteFile(path, []byte(`{"audio": {}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadModelConfig(path); err == nil {
		t.Fatal("expected error for missing sample rate")
	}
}

func TestParseCatalogAliasDoesNotShadowKey(t *testing.T) {
	c, err := ParseCatalog([]byte(`{
		"a": {"files": {}, "aliases": ["b"]},
		"b": {"files": {}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	info, ok := c.Lookup("b")
	if !ok || info.Key != "b" {
		t.Fatalf("expected real key b, got %+v", info)
	}
	if info, ok := c.Lookup("a"); !ok || info.Key != "a" {
		t.Fatalf("expected key a, got %+v", info)
	}
}

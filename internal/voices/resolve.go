package voices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnknownVoice is returned when a voice name is neither a file nor a
// catalog entry.
var ErrUnknownVoice = errors.New("unknown voice")

const downloadTimeout = 30 * time.Minute

// Resolver turns the configured voice (a file path or a catalog name) into
// model files on disk, downloading them when needed.
type Resolver struct {
	cfg    config.VoiceConfig
	client *http.Client
	log    *slog.Logger
}

// NewResolver builds a resolver. A nil client uses an instrumented default.
func NewResolver(cfg config.VoiceConfig, client *http.Client, log *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   downloadTimeout,
		}
	}
	return &Resolver{
		cfg:    cfg,
		client: client,
		log:    log.With(slog.String("component", "voices")),
	}
}

// Resolve is shorthand for NewResolver(cfg, nil, log).Resolve(ctx).
func Resolve(ctx context.Context, cfg config.VoiceConfig, log *slog.Logger) (Model, error) {
	return NewResolver(cfg, nil, log).Resolve(ctx)
}

func (r *Resolver) Resolve(ctx context.Context) (Model, error) {
	if r.cfg.Model == "" {
		return Model{}, errors.New("voice model not configured")
	}
	if fileExists(r.cfg.Model) {
		configPath := r.cfg.ModelConfig
		if configPath == "" {
			configPath = r.cfg.Model + ".json"
		}
		return r.load(modelName(r.cfg.Model), r.cfg.Model, configPath)
	}

	catalog, err := r.loadCatalog(ctx)
	if err != nil {
		return Model{}, err
	}
	info, ok := catalog.Lookup(r.cfg.Model)
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownVoice, r.cfg.Model)
	}
	if info.Key != r.cfg.Model {
		r.log.Info("voice name is an alias", slog.String("alias", r.cfg.Model), slog.String("voice", info.Key))
	}
	if err := r.ensure(ctx, info); err != nil {
		return Model{}, err
	}
	modelPath, configPath, err := r.find(info.Key)
	if err != nil {
		return Model{}, err
	}
	return r.load(info.Key, modelPath, configPath)
}

func (r *Resolver) load(name, modelPath, configPath string) (Model, error) {
	cfg, err := LoadModelConfig(configPath)
	if err != nil {
		return Model{}, err
	}
	r.log.Info("voice resolved",
		slog.String("voice", name),
		slog.String("model", modelPath),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("speakers", cfg.NumSpeakers))
	return Model{Name: name, ModelPath: modelPath, ConfigPath: configPath, Config: cfg}, nil
}

// ensure makes every catalog file of the voice present in some data dir,
// downloading missing or corrupt ones into the download dir.
func (r *Resolver) ensure(ctx context.Context, info VoiceInfo) error {
	if len(info.Files) == 0 {
		return fmt.Errorf("%w: %s has no files", ErrUnknownVoice, info.Key)
	}
	remotes := make([]string, 0, len(info.Files))
	for remote := range info.Files {
		remotes = append(remotes, remote)
	}
	sort.Strings(remotes)

	for _, remote := range remotes {
		want := info.Files[remote]
		name := path.Base(remote)
		if r.present(name, want) {
			continue
		}
		dest := filepath.Join(r.downloadDir(), name)
		r.log.Info("downloading voice file", slog.String("file", remote), slog.String("dest", dest))
		if err := r.download(ctx, remote, dest, want); err != nil {
			return fmt.Errorf("download voice %s: %w", info.Key, err)
		}
	}
	return nil
}

func (r *Resolver) present(name string, want FileInfo) bool {
	for _, dir := range r.searchDirs() {
		if verifyFile(filepath.Join(dir, name), want) {
			return true
		}
	}
	return false
}

// find locates <name>.onnx and <name>.onnx.json in the same data dir.
func (r *Resolver) find(name string) (string, string, error) {
	for _, dir := range r.searchDirs() {
		modelPath := filepath.Join(dir, name+".onnx")
		configPath := modelPath + ".json"
		if fileExists(modelPath) && fileExists(configPath) {
			return modelPath, configPath, nil
		}
	}
	return "", "", fmt.Errorf("missing files for voice %s", name)
}

func (r *Resolver) downloadDir() string {
	if r.cfg.DownloadDir != "" {
		return r.cfg.DownloadDir
	}
	if len(r.cfg.DataDirs) > 0 {
		return r.cfg.DataDirs[0]
	}
	return "."
}

// searchDirs is the data dirs followed by the download dir when it is not
// one of them.
func (r *Resolver) searchDirs() []string {
	dirs := append([]string{}, r.cfg.DataDirs...)
	dl := r.downloadDir()
	for _, d := range dirs {
		if filepath.Clean(d) == filepath.Clean(dl) {
			return dirs
		}
	}
	return append(dirs, dl)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func modelName(p string) string {
	base := filepath.Base(p)
	if ext := filepath.Ext(base); ext == ".onnx" {
		return base[:len(base)-len(ext)]
	}
	return base
}

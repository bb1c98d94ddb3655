package voices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const catalogFile = "voices.json"

// FileInfo describes one downloadable file of a voice.
type FileInfo struct {
	SizeBytes int64  `json:"size_bytes"`
	MD5Digest string `json:"md5_digest"`
}

// VoiceInfo is one entry of voices.json. Files are keyed by their path
// relative to the download base URL.
type VoiceInfo struct {
	Key     string              `json:"key"`
	Name    string              `json:"name"`
	Quality string              `json:"quality"`
	Files   map[string]FileInfo `json:"files"`
	Aliases []string            `json:"aliases,omitempty"`
}

// Catalog indexes voices by key and by every alias.
type Catalog struct {
	voices  map[string]VoiceInfo
	aliases map[string]string
}

// ParseCatalog decodes voices.json content.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]VoiceInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse voice catalog: %w", err)
	}
	c := &Catalog{voices: make(map[string]VoiceInfo, len(raw)), aliases: map[string]string{}}
	for key, info := range raw {
		if info.Key == "" {
			info.Key = key
		}
		c.voices[key] = info
	}
	for key, info := range c.voices {
		for _, alias := range info.Aliases {
			if _, taken := c.voices[alias]; !taken {
				c.aliases[alias] = key
			}
		}
	}
	return c, nil
}

// Lookup finds a voice by key or alias. The returned info always carries
// the canonical key.
func (c *Catalog) Lookup(name string) (VoiceInfo, bool) {
	if info, ok := c.voices[name]; ok {
		return info, true
	}
	if key, ok := c.aliases[name]; ok {
		return c.voices[key], true
	}
	return VoiceInfo{}, false
}

// loadCatalog reads voices.json from the download dir, fetching it first
// when it is missing or a refresh was requested.
func (r *Resolver) loadCatalog(ctx context.Context) (*Catalog, error) {
	path := filepath.Join(r.downloadDir(), catalogFile)
	_, statErr := os.Stat(path)
	missing := errors.Is(statErr, fs.ErrNotExist)
	if statErr != nil && !missing {
		return nil, fmt.Errorf("stat voice catalog: %w", statErr)
	}
	if missing || r.cfg.UpdateVoices {
		r.log.Info("downloading voice catalog", slog.String("path", path))
		if err := r.download(ctx, catalogFile, path, FileInfo{}); err != nil {
			return nil, fmt.Errorf("download voice catalog: %w", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice catalog: %w", err)
	}
	return ParseCatalog(data)
}

package voices

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrChecksum is returned when a file does not match its catalog digest.
var ErrChecksum = errors.New("voice file checksum mismatch")

// download fetches remote (relative to the url base) into dest. The file
// is written next to dest and renamed into place only after it matches
// want; a zero FileInfo skips verification.
func (r *Resolver) download(ctx context.Context, remote, dest string, want FileInfo) error {
	src, err := url.JoinPath(r.cfg.URLBase, remote)
	if err != nil {
		return fmt.Errorf("build download url: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download %s failed: HTTP %d %s", src, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	tmpPath := dest + ".download"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	hash := md5.New()
	n, copyErr := io.Copy(io.MultiWriter(f, hash), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return closeErr
	}
	if err := want.check(n, hex.EncodeToString(hash.Sum(nil))); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%s: %w", remote, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (f FileInfo) check(size int64, digest string) error {
	if f.SizeBytes > 0 && size != f.SizeBytes {
		return fmt.Errorf("%w: size %d, expected %d", ErrChecksum, size, f.SizeBytes)
	}
	if f.MD5Digest != "" && !strings.EqualFold(digest, f.MD5Digest) {
		return fmt.Errorf("%w: md5 %s, expected %s", ErrChecksum, digest, f.MD5Digest)
	}
	return nil
}

// verifyFile reports whether the file at path exists and matches want.
func verifyFile(path string, want FileInfo) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	if want.SizeBytes > 0 && fi.Size() != want.SizeBytes {
		return false
	}
	if want.MD5Digest == "" {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(hash.Sum(nil)), want.MD5Digest)
}

// Package hub resolves a model location to a local file, downloading and
// caching remote weights on first use.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tamnguyenvan/vision-counter/internal/utils"
	"github.com/tamnguyenvan/vision-counter/pkg/types"
)

const (
	// DefaultWeightsURL points at the FSC147-trained counting model
	DefaultWeightsURL = "https://github.com/tamnguyenvan/vision-counter-assets/releases/download/v0.1.0/FSC147.onnx"

	userAgent = "vision-counter/1.0 (+https://github.com/tamnguyenvan/vision-counter)"
)

// DefaultCacheDir returns ~/.vision_counter, or a directory under the
// system temp dir when the home directory is unknown.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vision_counter")
	}
	return filepath.Join(home, ".vision_counter")
}

// Fetcher downloads model files into a cache directory
type Fetcher struct {
	CacheDir   string
	HTTPClient *http.Client

	logger *zap.SugaredLogger
	group  singleflight.Group
}

// NewFetcher creates a fetcher caching into cacheDir. An empty cacheDir
// means DefaultCacheDir and a nil logger discards output.
func NewFetcher(cacheDir string, logger *zap.Logger) *Fetcher {
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		CacheDir:   cacheDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Minute},
		logger:     logger.Sugar(),
	}
}

// IsRemote reports whether location is downloaded rather than read from disk
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// CachePath returns where a remote location is stored once downloaded
func (f *Fetcher) CachePath(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid model URL %q: %v", types.ErrModelLoad, location, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: model URL %q has no file name", types.ErrModelLoad, location)
	}
	return filepath.Join(f.CacheDir, name), nil
}

// Resolve returns a local path for location. Remote locations are fetched
// once into the cache; later calls return the cached file without network
// access. Local paths must already exist. Cancelling ctx abandons the wait
// but not a download other callers share.
func (f *Fetcher) Resolve(ctx context.Context, location string) (string, error) {
	if location == "" {
		location = DefaultWeightsURL
	}

	if !IsRemote(location) {
		if !utils.FileExists(location) {
			return "", fmt.Errorf("%w: model file not found: %s", types.ErrModelLoad, location)
		}
		return location, nil
	}

	dest, err := f.CachePath(location)
	if err != nil {
		return "", err
	}
	if utils.FileExists(dest) {
		f.logger.Debugw("using cached model", "path", dest)
		return dest, nil
	}

	// the shared download outlives any single caller's ctx
	ch := f.group.DoChan(dest, func() (interface{}, error) {
		if utils.FileExists(dest) {
			return dest, nil
		}
		return dest, f.download(context.WithoutCancel(ctx), location, dest)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for model download: %w", ctx.Err())
	}
}

func (f *Fetcher) download(ctx context.Context, location, dest string) error {
	if err := utils.EnsureDir(f.CacheDir); err != nil {
		return fmt.Errorf("%w: failed to create cache dir: %v", types.ErrModelLoad, err)
	}

	f.logger.Infow("downloading model", "url", location, "dest", dest)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", types.ErrModelLoad, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed to download model: %v", types.ErrModelLoad, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: failed to download model: HTTP %d", types.ErrModelLoad, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.CacheDir, filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", types.ErrModelLoad, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: failed to write model: %v", types.ErrModelLoad, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("%w: failed to store model: %v", types.ErrModelLoad, err)
	}

	f.logger.Infow("model downloaded",
		"path", dest,
		"size", utils.FormatFileSize(n),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/veloverlay/api/internal/config"
)

// ErrTileUnavailable is returned for tiles that are neither cached nor
// downloadable.
var ErrTileUnavailable = errors.New("tile unavailable")

const maxTileBytes = 4 << 20

// TileClient fetches slippy map raster tiles (PNG, JPEG or WebP) through an
// on-disk cache. Cached tiles never expire.
type TileClient struct {
	urlTemplate string
	cacheDir    string
	offline     bool
	userAgent   string
	http        *http.Client
}

func NewTileClient(cfg *config.BasemapConfig) *TileClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &TileClient{
		urlTemplate: cfg.URLTemplate,
		offline:     cfg.Offline,
		userAgent:   cfg.UserAgent,
		http:        &http.Client{Timeout: timeout},
	}
	if cfg.CacheDir != "" {
		// tile sets from different servers never share a directory
		sum := sha256.Sum256([]byte(cfg.URLTemplate))
		c.cacheDir = filepath.Join(cfg.CacheDir, hex.EncodeToString(sum[:6]))
	}
	return c
}

// Tile returns the decoded tile z/x/y.
func (c *TileClient) Tile(ctx context.Context, z, x, y int) (image.Image, error) {
	path := c.cachePath(z, x, y)
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
				return img, nil
			}
			slog.Warn("discarding unreadable cached tile", "path", path)
		}
	}
	if c.offline || c.urlTemplate == "" {
		return nil, fmt.Errorf("%w: %d/%d/%d not cached", ErrTileUnavailable, z, x, y)
	}

	data, err := c.download(ctx, z, x, y)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %d/%d/%d: %v", ErrTileUnavailable, z, x, y, err)
	}
	if path != "" {
		if err := writeFileAtomic(path, data); err != nil {
			slog.Warn("failed to cache tile", "path", path, "error", err)
		}
	}
	return img, nil
}

func (c *TileClient) tileURL(z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(c.urlTemplate)
}

func (c *TileClient) cachePath(z, x, y int) string {
	if c.cacheDir == "" {
		return ""
	}
	return filepath.Join(c.cacheDir, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+".tile")
}

func (c *TileClient) download(ctx context.Context, z, x, y int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tileURL(z, x, y), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTileUnavailable, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTileUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d/%d/%d: status %d", ErrTileUnavailable, z, x, y, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %d/%d/%d: %v", ErrTileUnavailable, z, x, y, err)
	}
	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

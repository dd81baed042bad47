// Package storage 负责生成图像的落盘物化：保存字节/base64、
// 下载远端 URL、过期文件清理，以及本地文件与 data URI 的互转。
// 所有保存路径都先经 dedup 指纹检查，同内容的图像只写一份。
package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/imagegen/dedup"
	"github.com/BaSui01/imageflow/internal/metrics"
	"github.com/BaSui01/imageflow/types"
)

// Downloader fetches raw bytes from a URL. *imagegen.Executor satisfies it.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Store materializes images under a directory with age-based cleanup.
type Store struct {
	dir        string
	maxAge     time.Duration
	cache      *dedup.Cache
	downloader Downloader
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewStore creates a Store rooted at dir. maxAge bounds how long saved
// files live; zero disables cleanup. cache may be nil to disable dedup.
func NewStore(dir string, maxAge time.Duration, cache *dedup.Cache, dl Downloader, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "imageflow")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir failed: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:        dir,
		maxAge:     maxAge,
		cache:      cache,
		downloader: dl,
		logger:     logger.With(zap.String("component", "storage")),
	}, nil
}

// Dir returns the storage root.
func (s *Store) Dir() string { return s.dir }

// SetCollector attaches a metrics collector for dedup hit/miss counts.
func (s *Store) SetCollector(c *metrics.Collector) { s.collector = c }

// SaveBytes persists image bytes and returns the file path. Identical
// bytes return the previously saved path via the dedup cache.
func (s *Store) SaveBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", types.NewError(types.ErrInternal, "empty image data")
	}
	s.Cleanup()

	write := func() (string, error) {
		name := fmt.Sprintf("img_%d_%s%s",
			time.Now().Unix(),
			uuid.NewString()[:8],
			extForMime(sniffImageMime(data)))
		path := filepath.Join(s.dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("write image file failed: %w", err)
		}
		s.logger.Debug("image saved", zap.String("path", path), zap.Int("bytes", len(data)))
		return path, nil
	}

	if s.cache == nil {
		return write()
	}
	fp := dedup.Fingerprint(data)
	path, hit, err := s.cache.GetOrStore(fp, write)
	if err != nil {
		return "", err
	}
	if s.collector != nil {
		if hit {
			s.collector.RecordCacheHit("dedup")
		} else {
			s.collector.RecordCacheMiss("dedup")
		}
	}
	if hit {
		// 命中的文件可能已被清理，丢了就重写并回填缓存
		if _, statErr := os.Stat(path); statErr != nil {
			path, err = write()
			if err != nil {
				return "", err
			}
			s.cache.Put(fp, path)
			return path, nil
		}
		s.logger.Debug("dedup hit", zap.String("path", path))
	}
	return path, nil
}

// SaveBase64 decodes and persists a base64 payload (data URI or bare).
func (s *Store) SaveBase64(b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(stripDataURIPrefix(b64))
	if err != nil {
		return "", types.NewError(types.ErrParse, "invalid base64 image data").WithCause(err)
	}
	return s.SaveBytes(data)
}

// Download fetches a URL and persists the bytes.
func (s *Store) Download(ctx context.Context, url string) (string, error) {
	if s.downloader == nil {
		return "", types.NewError(types.ErrInternal, "no downloader configured")
	}
	data, err := s.downloader.Download(ctx, url)
	if err != nil {
		return "", err
	}
	return s.SaveBytes(data)
}

// Materialize turns any image reference (data URI, remote URL, local
// path) into a local file path.
func (s *Store) Materialize(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return s.SaveBase64(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return s.Download(ctx, ref)
	default:
		if _, err := os.Stat(ref); err != nil {
			return "", types.NewError(types.ErrInternal, "image file not found: "+ref).WithCause(err)
		}
		return ref, nil
	}
}

// FileToDataURI reads a local file and encodes it as a data URI.
// Mime type comes from the extension, magic bytes as fallback.
func (s *Store) FileToDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image file failed: %w", err)
	}
	mime := mimeForExt(filepath.Ext(path))
	if mime == "" {
		mime = sniffImageMime(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ParseDataURI splits a data URI into mime type and decoded bytes.
func ParseDataURI(uri string) (mime string, data []byte, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, types.NewError(types.ErrParse, "not a data uri")
	}
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return "", nil, types.NewError(types.ErrParse, "malformed data uri")
	}
	meta := rest[:comma]
	mime = strings.TrimSuffix(meta, ";base64")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	data, err = base64.StdEncoding.DecodeString(rest[comma+1:])
	if err != nil {
		return "", nil, types.NewError(types.ErrParse, "invalid data uri payload").WithCause(err)
	}
	return mime, data, nil
}

// Cleanup removes files older than maxAge from the storage dir.
func (s *Store) Cleanup() {
	if s.maxAge <= 0 {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("cleanup scan failed", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired images removed", zap.Int("count", removed))
	}
}

// sniffImageMime detects jpeg/png/gif/webp from magic bytes, PNG otherwise.
func sniffImageMime(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "image/png"
	case len(data) >= 6 && (string(data[:6]) == "GIF87a" || string(data[:6]) == "GIF89a"):
		return "image/gif"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	default:
		return "image/png"
	}
}

func stripDataURIPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ","); i >= 0 {
		return s[i+1:]
	}
	return s
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

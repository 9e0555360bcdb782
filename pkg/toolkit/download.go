package toolkit

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Downloader saves files into the executor's scratch directory so that
// model-written scripts can open them by bare filename. Writes go
// through a temp file and a rename, so a failed download never leaves a
// partial file behind.
type Downloader struct {
	dir    string
	http   *resty.Client
	logger zerolog.Logger
}

// DownloadResult describes a saved file.
type DownloadResult struct {
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// String renders the compact form handed back to the model.
func (r DownloadResult) String() string {
	return fmt.Sprintf("%s | content-type=%s | size=%d", r.Path, r.ContentType, r.Size)
}

// NewDownloader creates a downloader rooted at dir.
func NewDownloader(dir string, client *resty.Client, logger zerolog.Logger) *Downloader {
	if client == nil {
		client = resty.New().
			SetTimeout(60 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second)
	}
	return &Downloader{dir: dir, http: client, logger: logger}
}

// Download fetches fileURL and saves it. An empty filename is derived
// from the URL; collisions get a numeric suffix instead of overwriting.
func (d *Downloader) Download(ctx context.Context, fileURL, filename string) (*DownloadResult, error) {
	if _, err := url.ParseRequestURI(fileURL); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", fileURL, err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	if filename == "" {
		filename = filenameFromURL(fileURL)
	}
	filename = sanitizeFilename(filename)
	path := d.uncollidedPath(filename)

	resp, err := d.http.R().SetContext(ctx).Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download failed: http %d from %s", resp.StatusCode(), fileURL)
	}

	tmpPath := path + ".part"
	if err := os.WriteFile(tmpPath, resp.Body(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to finalize file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded file: %w", err)
	}

	result := &DownloadResult{
		Path:        path,
		Filename:    filepath.Base(path),
		ContentType: resp.Header().Get("Content-Type"),
		Size:        info.Size(),
	}
	if result.ContentType == "" {
		result.ContentType = "unknown"
	}

	d.logger.Info().
		Str("url", fileURL).
		Str("path", result.Path).
		Int64("size", result.Size).
		Str("content_type", result.ContentType).
		Msg("File downloaded")

	return result, nil
}

func filenameFromURL(fileURL string) string {
	name := fileURL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "downloaded_file"
	}
	return name
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		return "downloaded_file"
	}
	return name
}

func (d *Downloader) uncollidedPath(filename string) string {
	path := filepath.Join(d.dir, filename)
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(d.dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}
}

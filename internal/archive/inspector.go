// Package archive inspects staged export archives just enough for the
// orchestration layer: entry listing, size accounting, and media candidate
// discovery. It deliberately knows nothing about any platform's export
// format internals.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

var mediaExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".mp4":  true,
	".mov":  true,
}

// Summary is what one inspection pass learned about an archive.
type Summary struct {
	FileCount              int
	TotalUncompressedBytes int64
	MediaCandidates        []string
}

type objectDownloader interface {
	Download(ctx context.Context, objectPath string) (io.ReadCloser, int64, error)
}

// Inspector lists the contents of staged archive objects.
type Inspector struct {
	storage objectDownloader
}

func NewInspector(storage objectDownloader) *Inspector {
	return &Inspector{storage: storage}
}

// Inspect downloads the object to a temp file and walks its zip directory.
func (i *Inspector) Inspect(ctx context.Context, objectPath string) (*Summary, error) {
	body, _, err := i.storage.Download(ctx, objectPath)
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "vaultis-inspect-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, body); err != nil {
		return nil, fmt.Errorf("spool archive: %w", err)
	}

	reader, err := zip.OpenReader(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	summary := &Summary{}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		summary.FileCount++
		summary.TotalUncompressedBytes += int64(f.UncompressedSize64)
		if mediaExtensions[strings.ToLower(path.Ext(f.Name))] {
			summary.MediaCandidates = append(summary.MediaCandidates, f.Name)
		}
	}
	return summary, nil
}

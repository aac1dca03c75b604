package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"chunkupload/internal/progress"

	"go.uber.org/zap"
)

// FileEntry is a regular file selected for upload
type FileEntry struct {
	Path string
	Name string
	Size int64
}

// FileLister expands command line paths into the files to upload
type FileLister struct {
	accept map[string]struct{}
	logger *zap.Logger
}

// NewFileLister creates a lister. An empty accept list lets every file through.
func NewFileLister(accept []string, logger *zap.Logger) *FileLister {
	l := &FileLister{logger: logger}
	for _, ext := range accept {
		if ext == "" {
			continue
		}
		if l.accept == nil {
			l.accept = make(map[string]struct{})
		}
		l.accept[strings.ToLower(ext)] = struct{}{}
	}
	return l
}

// Accepts reports whether name passes the extension filter
func (l *FileLister) Accepts(name string) bool {
	if l.accept == nil {
		return true
	}
	_, ok := l.accept[strings.ToLower(filepath.Ext(name))]
	return ok
}

// List walks paths in order. Directories are walked recursively; files that
// fail the filter are skipped with a log line.
func (l *FileLister) List(ctx context.Context, paths []string) ([]FileEntry, int64, error) {
	var entries []FileEntry
	var totalSize int64

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to stat %s: %w", root, err)
		}

		if !info.IsDir() {
			if entry, ok := l.entry(root, info); ok {
				entries = append(entries, entry)
				totalSize += entry.Size
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			if entry, ok := l.entry(path, info); ok {
				entries = append(entries, entry)
				totalSize += entry.Size
			}
			return nil
		})
		if err != nil {
			return nil, 0, fmt.Errorf("error listing %s: %w", root, err)
		}
	}

	l.logger.Info("Finished listing files",
		zap.Int("total_files", len(entries)),
		zap.String("total_size", progress.FormatBytes(totalSize)),
	)
	return entries, totalSize, nil
}

func (l *FileLister) entry(path string, info fs.FileInfo) (FileEntry, bool) {
	if !info.Mode().IsRegular() {
		l.logger.Debug("Skipping non-regular file", zap.String("path", path))
		return FileEntry{}, false
	}
	if !l.Accepts(info.Name()) {
		l.logger.Info("Skipping file with unaccepted extension", zap.String("path", path))
		return FileEntry{}, false
	}
	return FileEntry{Path: path, Name: info.Name(), Size: info.Size()}, true
}

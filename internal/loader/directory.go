// Package loader reads source files from the data directory into documents.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"docqa/internal/domain"
)

var _ domain.Loader = (*DirectoryLoader)(nil)

// DirectoryLoader loads every file under a directory, recursively.
type DirectoryLoader struct {
	log zerolog.Logger
}

// NewDirectoryLoader creates a loader that reports skipped files to log.
func NewDirectoryLoader(log zerolog.Logger) *DirectoryLoader {
	return &DirectoryLoader{log: log}
}

// Load returns one document per file, sorted by source path. A file whose
// text cannot be extracted is kept with empty content and a warning. A
// missing directory is an ingestion error; an empty one is not.
func (l *DirectoryLoader) Load(ctx context.Context, dir string) ([]domain.Document, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrIngestion, err)
		}
		path := SourcePath(dir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: load %s: %w", domain.ErrIngestion, path, err)
		}
		text, err := extractText(path, data)
		if err != nil {
			l.log.Warn().Err(err).Str("file", path).Msg("no text extracted")
			text = ""
		} else if strings.TrimSpace(text) == "" {
			l.log.Warn().Str("file", path).Msg("no text extracted")
		}
		docs = append(docs, domain.Document{SourcePath: path, Content: text})
	}
	l.log.Debug().Str("dir", dir).Int("documents", len(docs)).Msg("loaded documents")
	return docs, nil
}

// ListFiles returns the regular files under dir as paths relative to dir
// (the basename for top-level files), sorted. Hidden entries are skipped.
func ListFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: data directory %s: %w", domain.ErrIngestion, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrIngestion, dir)
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", domain.ErrIngestion, dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// SourcePath builds the source path recorded for a file, given its name
// relative to the data directory. Ingestion and query filters must agree on it.
func SourcePath(dir, name string) string {
	return filepath.Join(dir, name)
}

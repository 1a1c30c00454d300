package worker

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"docjobs/pkg/callback"
)

// collectFiles reads every regular file under root into callback files with
// slash-separated paths relative to root. Oversized files are skipped.
func collectFiles(root string, maxFiles int, maxBytes int64) ([]callback.File, error) {
	var files []callback.File

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if err := validatePath(rel); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxBytes {
			slog.Warn("Skipping oversized output file", "path", rel, "size", info.Size(), "limit", maxBytes)
			return nil
		}
		if len(files) >= maxFiles {
			return fmt.Errorf("more than %d output files", maxFiles)
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, callback.File{
			Path:    rel,
			Content: string(content),
			Type:    fileType(rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func fileType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".markdown":
		return "markdown"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path is required")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("path must be relative, not absolute")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed")
		}
	}
	return nil
}

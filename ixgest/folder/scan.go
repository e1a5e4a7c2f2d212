// Package folder finds media files on disk: a one-shot scan of a directory
// and a watcher that reports new files once they stop changing.
package folder

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teranos/scribe/errors"
)

// MatchesExtension reports whether path ends in one of extensions, ignoring case.
// Extensions are given with their leading dot.
func MatchesExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func hidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

// Scan returns the absolute paths of media files under dir, sorted.
// Hidden files and directories are skipped.
func Scan(dir string, extensions []string, recursive bool) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", dir)
	}
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil, errors.NewInputError("folder does not exist: %s", root)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to stat %s", root), errors.ErrIO)
	}
	if !info.IsDir() {
		return nil, errors.NewInputError("not a folder: %s", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "failed to read %s", path), errors.ErrIO)
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive || hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden(d.Name()) || !d.Type().IsRegular() {
			return nil
		}
		if MatchesExtension(path, extensions) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

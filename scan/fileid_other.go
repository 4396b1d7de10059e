//go:build !unix

package scan

import (
	"io/fs"
	"path/filepath"
)

// fileID identifies a directory by its resolved path where inodes are unavailable.
type fileID struct {
	path string
}

func idOf(path string, _ fs.FileInfo) (fileID, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fileID{}, false
	}
	return fileID{path: resolved}, true
}

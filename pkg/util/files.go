package util

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CleanupFiles removes multiple files, ignoring errors
func CleanupFiles(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		_ = os.Remove(path)
	}
}

// SiblingPath returns a hidden path next to target that keeps target's
// extension, e.g. /out/clip.mp4 + "abc.partial" -> /out/.clip.abc.partial.mp4.
// Keeping the extension lets ffmpeg pick the same container for the temp file.
func SiblingPath(target, tag string) string {
	dir := filepath.Dir(target)
	ext := filepath.Ext(target)
	base := strings.TrimSuffix(filepath.Base(target), ext)
	return filepath.Join(dir, "."+base+"."+tag+ext)
}

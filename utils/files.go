package utils

import (
	"io"
	"os"
	"path/filepath"
)

const (
	DefaultFilePerms = 0o755
)

// CopyFile is a helper to copy a file from src to dst
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	// Grant permission to copy
	if err := os.Chmod(dst, DefaultFilePerms); err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// DirIsEmpty returns true if the directory at [path] exists and has no entries.
func DirIsEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// ClearDir removes every entry inside [path] but keeps the directory itself.
func ClearDir(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

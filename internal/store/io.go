package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	dirMode  os.FileMode = 0o700
	fileMode os.FileMode = 0o600
)

// loadFile returns the contents of path. found is false for a missing file.
func loadFile(path string) (b []byte, found bool, err error) {
	b, err = os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// loadJSON decodes path into out, leaving out untouched if the file is missing.
func loadJSON(path string, out any) error {
	b, found, err := loadFile(path)
	if err != nil || !found {
		return err
	}
	return json.Unmarshal(b, out)
}

func storeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return storeFile(path, b)
}

// storeFile replaces path with b. The data is synced before the rename and
// the rename is synced after it, so a crash leaves either the old or the new
// contents.
func storeFile(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := f.Chmod(fileMode); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	// Not every filesystem supports fsync on a directory.
	_ = d.Sync()
	_ = d.Close()
}

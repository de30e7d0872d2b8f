package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// File keeps one file per key under a directory. Writes go to a temp file that
// is renamed over the target, so readers never see a half-written value.
type File struct {
	fs  afero.Fs
	dir string
}

// NewFile uses fs rooted at dir. Pass afero.NewOsFs() in production and
// afero.NewMemMapFs() in tests.
func NewFile(fs afero.Fs, dir string) (*File, error) {
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, classifyFile("mkdir", err)
	}
	return &File{fs: fs, dir: dir}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	b, err := afero.ReadFile(f.fs, f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, classifyFile("get", err)
	}
	return string(b), true, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	target := f.path(key)
	tmp := target + "." + uuid.NewString() + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, []byte(value), 0o640); err != nil {
		_ = f.fs.Remove(tmp)
		return classifyFile("set", err)
	}
	if err := f.fs.Rename(tmp, target); err != nil {
		_ = f.fs.Remove(tmp)
		return classifyFile("set", err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := f.fs.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return classifyFile("delete", err)
	}
	return nil
}

func (f *File) Close() error { return nil }

func classifyFile(op string, err error) error {
	op = "file " + op
	if errors.Is(err, syscall.ENOSPC) {
		return tag(ErrQuotaExceeded, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

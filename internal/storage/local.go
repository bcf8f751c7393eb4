package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Rogrei/diagnostik-chat/internal/utils"
)

// LocalStore keeps artifacts in a directory on the API host.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{Dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, name string, _ string, r io.Reader) (string, error) {
	name, err := NameFromURL(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, name)); err != nil {
		return "", err
	}
	return PublicURL(name), nil
}

func (s *LocalStore) Open(_ context.Context, publicURL string) (io.ReadCloser, error) {
	name, err := NameFromURL(publicURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	}
	f, err := os.Open(filepath.Join(s.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", utils.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

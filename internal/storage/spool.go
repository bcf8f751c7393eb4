package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Spooled is an upload copied to a temporary file while its content hash
// is computed. Callers must Remove it on every path.
type Spooled struct {
	Path   string
	SHA256 string
	Size   int64
}

func Spool(dir string, r io.Reader) (*Spooled, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "spool-*")
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &Spooled{Path: f.Name(), SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

func (s *Spooled) Open() (*os.File, error) { return os.Open(s.Path) }

func (s *Spooled) Remove() error {
	if s == nil || s.Path == "" {
		return nil
	}
	err := os.Remove(s.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// PublicPrefix is the URL path every stored audio artifact is exposed under.
const PublicPrefix = "/uploads/audio/"

// AudioStore keeps uploaded audio artifacts addressable by their public URL.
type AudioStore interface {
	Save(ctx context.Context, name string, contentType string, r io.Reader) (publicURL string, err error)
	Open(ctx context.Context, publicURL string) (io.ReadCloser, error)
}

type Signer interface {
	SignedGetURL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

var ErrInvalidName = errors.New("invalid artifact name")

func PublicURL(name string) string {
	return PublicPrefix + name
}

// NameFromURL extracts the artifact file name from a public URL or a bare
// file name. Anything that would escape the artifact directory is rejected.
func NameFromURL(u string) (string, error) {
	u = strings.TrimSpace(u)
	u = strings.TrimPrefix(u, PublicPrefix)
	name := path.Base(strings.ReplaceAll(u, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ErrInvalidName
	}
	return name, nil
}

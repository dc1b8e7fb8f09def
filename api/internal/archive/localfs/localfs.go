// Package localfs archives card photos to a local directory. It stands in for
// Drive when no Google credentials are configured.
package localfs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"card-ledger/api/internal/archive"
)

type Store struct {
	basePath string
	baseURL  string
}

// New creates the directory if needed. When baseURL is set, links point to
// baseURL/<name> (the server exposes the directory there); otherwise they are
// file:// URLs.
func New(basePath, baseURL string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve archive dir: %w", err)
	}
	return &Store{basePath: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *Store) Dir() string { return s.basePath }

func (s *Store) Upload(ctx context.Context, name string, image []byte) (archive.Reference, error) {
	if err := ctx.Err(); err != nil {
		return archive.Reference{}, err
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return archive.Reference{}, archive.ErrEmptyName
	}

	path := filepath.Join(s.basePath, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return archive.Reference{}, fmt.Errorf("create archive file: %w", err)
	}
	if _, err := f.Write(image); err != nil {
		f.Close()
		_ = os.Remove(path)
		return archive.Reference{}, fmt.Errorf("write archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		return archive.Reference{}, fmt.Errorf("close archive file: %w", err)
	}

	link := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
	if s.baseURL != "" {
		link = s.baseURL + "/" + url.PathEscape(name)
	}
	return archive.Reference{ID: name, Link: link}, nil
}

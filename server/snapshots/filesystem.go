package snapshots

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
)

// StorageFS is a filesystem-based blob store.
// If PublicBaseURL is set, files are assumed to be served from there (eg by our own HTTP server).
type StorageFS struct {
	Root          string
	PublicBaseURL string
	log           logs.Log
}

func NewStorageFS(log logs.Log, root, publicBaseURL string) (*StorageFS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create root directory %v (relative path %v): %w", absRoot, root, err)
	}
	return &StorageFS{
		Root:          absRoot,
		PublicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		log:           log,
	}, nil
}

func validName(name string) bool {
	return name != "" && !strings.Contains(name, "..") && !filepath.IsAbs(name)
}

func (fs *StorageFS) WriteFile(ctx context.Context, name string) (io.WriteCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, name)
	}
	fs.log.Infof("Writing file %v", name)
	fullPath := filepath.Join(fs.Root, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(fullPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (fs *StorageFS) ReadFile(ctx context.Context, name string) (*File, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, name)
	}
	file, err := os.Open(filepath.Join(fs.Root, name))
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &File{
		Reader:     file,
		ModifiedAt: st.ModTime(),
		Size:       st.Size(),
	}, nil
}

func (fs *StorageFS) URL(name string) (string, error) {
	if fs.PublicBaseURL == "" {
		return "", ErrNoPublicUrl
	}
	return fs.PublicBaseURL + "/" + (&url.URL{Path: name}).EscapedPath(), nil
}

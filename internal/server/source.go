package server

import (
	"context"
	"io"
	"io/fs"

	"github.com/johann/assetview/internal/remote"
)

// Asset is an open remote file.
type Asset interface {
	io.ReadSeekCloser
	Info() fs.FileInfo
}

// Source reads files from the remote host. Each call uses its own session.
type Source interface {
	Open(ctx context.Context, path string) (Asset, error)
	ReadFile(ctx context.Context, path string, limit int64) ([]byte, error)
	List(ctx context.Context, dir string) ([]remote.Entry, error)
}

// FetcherSource adapts a remote.Fetcher to Source.
func FetcherSource(f *remote.Fetcher) Source {
	return fetcherSource{f: f}
}

type fetcherSource struct {
	f *remote.Fetcher
}

func (s fetcherSource) Open(ctx context.Context, path string) (Asset, error) {
	file, err := s.f.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s fetcherSource) ReadFile(ctx context.Context, path string, limit int64) ([]byte, error) {
	return s.f.ReadFile(ctx, path, limit)
}

func (s fetcherSource) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	return s.f.List(ctx, dir)
}

package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

type blobStore struct{ bk *blob.Bucket }

func openBlob(ctx context.Context, u string) (driver, error) {
	bk, err := blob.OpenBucket(ctx, u)
	if err != nil {
		return nil, err
	}
	return &blobStore{bk: bk}, nil
}

func openFile(base string) (driver, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ensure base_dir: %w", err)
	}
	bk, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, err
	}
	return &blobStore{bk: bk}, nil
}

func openMem() driver {
	return &blobStore{bk: memblob.OpenBucket(nil)}
}

func (s *blobStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	w, err := s.bk.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *blobStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := s.bk.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	err := s.bk.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (s *blobStore) Close() error {
	return s.bk.Close()
}

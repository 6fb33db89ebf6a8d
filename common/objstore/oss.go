package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/config"
	oss "github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossStore struct {
	bk *oss.Bucket
}

func openOSS(c config.StorageConfig) (driver, error) {
	cli, err := oss.New(c.Endpoint, c.AccessKey, c.SecretKey)
	if err != nil {
		return nil, err
	}
	bk, err := cli.Bucket(c.Bucket)
	if err != nil {
		return nil, err
	}
	return &ossStore{bk: bk}, nil
}

func (s *ossStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	opts := []oss.Option{}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	return s.bk.PutObject(key, r, opts...)
}

func (s *ossStore) Get(_ context.Context, key string) ([]byte, error) {
	rc, err := s.bk.GetObject(key)
	if err != nil {
		var svcErr oss.ServiceError
		if errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *ossStore) Delete(_ context.Context, key string) error {
	return s.bk.DeleteObject(key)
}

func (s *ossStore) Close() error { return nil }

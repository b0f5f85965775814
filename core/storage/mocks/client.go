package mocks

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/mock"
)

// Client is a mock implementation of storage.Client.
//
// PutObject reads the body before recording the call, so expectations match on the uploaded
// bytes and Uploaded returns them afterwards. GetObject and ListObjects accept plain fixtures:
// a []byte or string body, and a []string of keys.
type Client struct {
	mock.Mock

	mu       sync.Mutex
	uploaded map[string][]byte
}

func (m *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *Client) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

func (m *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	args := m.Called(ctx, bucketName, objectName, body, opts)
	if err := args.Error(0); err != nil {
		return minio.UploadInfo{}, err
	}

	m.mu.Lock()
	if m.uploaded == nil {
		m.uploaded = make(map[string][]byte)
	}
	m.uploaded[objectName] = body
	m.mu.Unlock()
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

// Uploaded returns a copy of the bodies stored by successful PutObject calls, by object name.
func (m *Client) Uploaded() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.uploaded))
	for k, v := range m.uploaded {
		out[k] = v
	}
	return out
}

func (m *Client) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	switch body := args.Get(0).(type) {
	case []byte:
		return io.NopCloser(bytes.NewReader(body)), args.Error(1)
	case string:
		return io.NopCloser(bytes.NewReader([]byte(body))), args.Error(1)
	case io.ReadCloser:
		return body, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	keys, _ := args.Get(0).([]string)
	ch := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		ch <- minio.ObjectInfo{Key: k}
	}
	close(ch)
	return ch
}

// RemoveObjects drains objectsCh and records the keys as one call. A non-nil error argument is
// reported for every key.
func (m *Client) RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	var keys []string
	for obj := range objectsCh {
		keys = append(keys, obj.Key)
	}
	args := m.Called(ctx, bucketName, keys)

	out := make(chan minio.RemoveObjectError, len(keys))
	if err := args.Error(0); err != nil {
		for _, k := range keys {
			out <- minio.RemoveObjectError{ObjectName: k, Err: err}
		}
	}
	close(out)
	return out
}

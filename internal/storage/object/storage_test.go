package object

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-batch/internal/model"
)

type putCall struct {
	bucket      string
	object      string
	body        string
	size        int64
	contentType string
}

type fakePutter struct {
	mu       sync.Mutex
	failures map[string]int // object name -> remaining failures
	calls    []putCall
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64,
	opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.calls = append(f.calls, putCall{bucket, object, string(body), size, opts.ContentType})

	if f.failures[object] > 0 {
		f.failures[object]--
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

var noDelay = retry.Strategy{Attempts: 2, Delay: 0, Backoff: 1}

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestSave(t *testing.T) {
	p := writeFile(t, t.TempDir(), "processed_a.png", "png-bytes")
	fake := &fakePutter{}
	s := newStorage(fake, "bucket", noDelay)

	key, err := s.Save(context.Background(), "batch-1", p)
	require.NoError(t, err)
	assert.Equal(t, "batch-1/processed_a.png", key)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, putCall{"bucket", "batch-1/processed_a.png", "png-bytes", 9, "image/png"}, fake.calls[0])
}

func TestSave_RetriesFromStart(t *testing.T) {
	p := writeFile(t, t.TempDir(), "processed_a.jpg", "jpeg-bytes")
	fake := &fakePutter{failures: map[string]int{"x/processed_a.jpg": 1}}
	s := newStorage(fake, "bucket", noDelay)

	_, err := s.Save(context.Background(), "x", p)
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "jpeg-bytes", fake.calls[1].body)
}

func TestSave_MissingFile(t *testing.T) {
	s := newStorage(&fakePutter{}, "bucket", noDelay)
	_, err := s.Save(context.Background(), "x", filepath.Join(t.TempDir(), "nope.png"))
	assert.Error(t, err)
}

func TestMirror_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	result := model.NewBatchResult(dir, "gaussian", nil)
	result.Succeeded = []string{
		writeFile(t, dir, "processed_a.png", "a"),
		writeFile(t, dir, "processed_b.png", "b"),
		writeFile(t, dir, "processed_c.png", "c"),
	}

	prefix := result.ID.String()
	fake := &fakePutter{failures: map[string]int{prefix + "/processed_b.png": 5}}
	s := newStorage(fake, "bucket", noDelay)

	keys, err := s.Mirror(context.Background(), result)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "processed_b.png"))
	assert.Equal(t, []string{prefix + "/processed_a.png", prefix + "/processed_c.png"}, keys)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("a.PNG"))
	assert.Equal(t, "image/jpeg", contentType("a.jpg"))
	assert.Equal(t, "application/octet-stream", contentType("a.unknownext"))
}

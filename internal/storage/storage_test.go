package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/hirelab/assessor/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	objects map[string][]byte
	types   map[string]string
	closed  bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryBackend) EnsureBucket(ctx context.Context) error { return nil }

func (m *memoryBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBackend) Bucket() string { return "reports" }

func (m *memoryBackend) Close() error {
	m.closed = true
	return nil
}

func TestOpenDisabled(t *testing.T) {
	for _, backend := range []string{"", "none", " NONE "} {
		s, err := Open(context.Background(), config.StorageConfig{Backend: backend})
		require.NoError(t, err)
		assert.Nil(t, s, "backend %q", backend)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.ErrorContains(t, err, `unknown storage backend "ftp"`)
}

func TestOpenValidatesMinioConfig(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: BackendMinio})
	assert.ErrorContains(t, err, "minio endpoint is required")

	_, err = Open(context.Background(), config.StorageConfig{
		Backend: BackendMinio,
		Minio:   config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"},
	})
	assert.ErrorContains(t, err, "minio bucket is required")
}

func TestGetJSONRoundTrip(t *testing.T) {
	backend := newMemoryBackend()
	s := New(backend)
	ctx := context.Background()

	payload := `{"executionId":"x","language":"go"}`
	require.NoError(t, s.Put(ctx, "executions/a/x.json", strings.NewReader(payload), int64(len(payload)), "application/json"))
	assert.Equal(t, "application/json", backend.types["executions/a/x.json"])

	var report struct {
		ExecutionID string `json:"executionId"`
		Language    string `json:"language"`
	}
	require.NoError(t, s.GetJSON(ctx, "executions/a/x.json", &report))
	assert.Equal(t, "go", report.Language)

	assert.ErrorIs(t, s.GetJSON(ctx, "executions/a/missing.json", &report), ErrObjectNotFound)

	require.NoError(t, s.Put(ctx, "broken.json", strings.NewReader("{"), 1, "application/json"))
	assert.ErrorContains(t, s.GetJSON(ctx, "broken.json", &report), "decode broken.json")

	require.NoError(t, s.Close())
	assert.True(t, backend.closed)
}

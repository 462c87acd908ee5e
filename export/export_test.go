package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docetl/types"
)

type memUploader struct {
	keys   []string
	bodies [][]byte
	ctype  string
	err    error
}

func (m *memUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.keys = append(m.keys, key)
	m.bodies = append(m.bodies, b)
	m.ctype = contentType
	return nil
}

var sample = &types.Dataset{
	Columns: []string{"SourceDocumentID", "Title"},
	Rows:    [][]any{{"d1", "Lease"}, {"d2", nil}},
}

func TestWriteDataset_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "transformed_data.csv")

	got, err := New().WriteDataset(context.Background(), path, sample)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SourceDocumentID,Title\nd1,Lease\nd2,\n", string(b))
}

func TestWriteDataset_GzipAndUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extracted_data.csv")
	up := &memUploader{}

	got, err := New(WithGzip(true), WithUploader(up, "etl/runs")).WriteDataset(context.Background(), path, sample)
	require.NoError(t, err)
	assert.Equal(t, path+".gz", got)

	d, err := OpenDataset(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"sourcedocumentid", "title"}, d.Columns)
	assert.Equal(t, []any{"d2", nil}, d.Rows[1])

	require.Equal(t, []string{"etl/runs/extracted_data.csv.gz"}, up.keys)
	assert.Equal(t, "application/gzip", up.ctype)
	onDisk, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(onDisk, up.bodies[0]))
}

func TestWriteDataset_UploadFailureKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.csv")
	up := &memUploader{err: errors.New("access denied")}

	got, err := New(WithUploader(up, "")).WriteDataset(context.Background(), path, sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.FileExists(t, got)
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), types.ExportConfig{Region: "us-east-2"})
	assert.True(t, errors.Is(err, types.ErrConfig))
}

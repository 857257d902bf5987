package csvrecord

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/batchworks/adaptivebatch/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) fetch.FileRef {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return fetch.FileRef{Path: path, Size: info.Size()}
}

func TestReaderReadsRowsKeyedByHeader(t *testing.T) {
	ref := writeCSV(t, "name,age\nalice,30\nbob,40\n")

	rows, err := Reader{}.ReadWorkItem(context.Background(), ref, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "alice", rows[0].Fields["name"])
	assert.Equal(t, "30", rows[0].Fields["age"])
	assert.Equal(t, 1, rows[0].Index)

	assert.Equal(t, "bob", rows[1].Fields["name"])
	assert.Equal(t, 2, rows[1].Index)
}

func TestReaderEmptyBodyReturnsNoRows(t *testing.T) {
	ref := writeCSV(t, "name,age\n")

	rows, err := Reader{}.ReadWorkItem(context.Background(), ref, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReaderMissingFileReturnsError(t *testing.T) {
	_, err := Reader{}.ReadWorkItem(context.Background(), fetch.FileRef{Path: "/does/not/exist.csv"}, nil)
	assert.Error(t, err)
}

func TestReaderHonorsCustomDelimiter(t *testing.T) {
	ref := writeCSV(t, "name;age\nalice;30\n")

	rows, err := Reader{Comma: ';'}.ReadWorkItem(context.Background(), ref, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Fields["name"])
}

func TestReaderHonorsCancellation(t *testing.T) {
	ref := writeCSV(t, "name,age\nalice,30\nbob,40\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Reader{}.ReadWorkItem(ctx, ref, nil)
	assert.Error(t, err)
}

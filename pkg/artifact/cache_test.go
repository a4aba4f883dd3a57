package artifact

import (
	"os"
	"testing"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTripGzip(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	require.NoError(t, err)

	payload := []byte("hello artifact cache, this is the decompressed payload")
	compressed, err := Compress(payload, types.CompressionGzip)
	require.NoError(t, err)

	cache.BeginDownload("artifact-1", types.CompressionGzip, int64(len(payload)))
	require.NoError(t, cache.AppendChunk("artifact-1", 0, compressed))

	checksum, err := cache.Complete("artifact-1")
	require.NoError(t, err)
	assert.NotEmpty(t, checksum)

	got, err := cache.Read("artifact-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entry, ok := cache.Has("artifact-1")
	assert.True(t, ok)
	assert.Equal(t, checksum, entry.Checksum)
}

func TestCacheQueryReportsMissAndHit(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	require.NoError(t, err)

	payload := []byte("cached payload")
	compressed, err := Compress(payload, types.CompressionNone)
	require.NoError(t, err)

	cache.BeginDownload("cached-artifact", types.CompressionNone, int64(len(payload)))
	require.NoError(t, cache.AppendChunk("cached-artifact", 0, compressed))
	_, err = cache.Complete("cached-artifact")
	require.NoError(t, err)

	infos := cache.Query([]string{"cached-artifact", "unknown-artifact"})
	require.Len(t, infos, 2)
	assert.True(t, infos[0].Cached)
	assert.False(t, infos[0].NeedsTransfer)
	assert.False(t, infos[1].Cached)
	assert.True(t, infos[1].NeedsTransfer)
}

func TestCacheReplaySkipsCorruptedLines(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	require.NoError(t, err)

	payload := []byte("replayed payload")
	compressed, err := Compress(payload, types.CompressionNone)
	require.NoError(t, err)
	cache.BeginDownload("good-artifact", types.CompressionNone, int64(len(payload)))
	require.NoError(t, cache.AppendChunk("good-artifact", 0, compressed))
	_, err = cache.Complete("good-artifact")
	require.NoError(t, err)

	appendRaw(t, cache.metadataPath(), "not-a-valid-line")

	reopened, err := NewCache(dir)
	require.NoError(t, err)

	_, ok := reopened.Has("good-artifact")
	assert.True(t, ok)
}

func appendRaw(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
}

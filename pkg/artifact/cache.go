package artifact

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

const metadataFileName = "metadata.log"

// Entry is one cached artifact's metadata, persisted as a single
// pipe-delimited line: id|sha256|size|cachedAt(RFC3339).
type Entry struct {
	ArtifactID string
	Checksum   string
	Size       int64
	CachedAt   time.Time
}

func (e Entry) marshal() string {
	return strings.Join([]string{
		e.ArtifactID,
		e.Checksum,
		strconv.FormatInt(e.Size, 10),
		e.CachedAt.Format(time.RFC3339),
	}, "|")
}

func unmarshalEntry(line string) (Entry, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("malformed metadata line: %q", line)
	}
	size, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed size in metadata line: %q", line)
	}
	cachedAt, err := time.Parse(time.RFC3339, parts[3])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed timestamp in metadata line: %q", line)
	}
	return Entry{ArtifactID: parts[0], Checksum: parts[1], Size: size, CachedAt: cachedAt}, nil
}

// download tracks an in-progress artifact transfer keyed by sequence
// number, since chunks are not guaranteed to arrive strictly in order
// within the sender's window.
type download struct {
	chunks       map[int64][]byte
	compression  types.Compression
	originalSize int64
}

// Cache is the worker-side content-addressed artifact cache (§4.2).
// One Cache per worker process; all access is mutex-guarded since
// chunk appends and cache queries both run off the same stream.
type Cache struct {
	dir string

	mu        sync.Mutex
	entries   map[string]Entry
	downloads map[string]*download

	logger zerolog.Logger
}

// NewCache opens (creating if absent) a cache rooted at dir, replaying
// its metadata log. A corrupted line is logged and skipped rather than
// failing the whole load, since one bad line must not make every
// previously cached artifact invisible.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierrors.NewSystem("artifact-cache-mkdir", err)
	}

	c := &Cache{
		dir:       dir,
		entries:   make(map[string]Entry),
		downloads: make(map[string]*download),
		logger:    log.WithComponent("artifact-cache"),
	}

	if err := c.replay(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) metadataPath() string {
	return filepath.Join(c.dir, metadataFileName)
}

func (c *Cache) blobPath(artifactID string) string {
	return filepath.Join(c.dir, artifactID+".blob")
}

func (c *Cache) replay() error {
	f, err := os.Open(c.metadataPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apierrors.NewSystem("artifact-cache-open", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := unmarshalEntry(line)
		if err != nil {
			c.logger.Warn().Err(err).Msg("skipping corrupted metadata line")
			continue
		}
		c.entries[entry.ArtifactID] = entry
	}
	return nil
}

func (c *Cache) appendMetadata(entry Entry) error {
	f, err := os.OpenFile(c.metadataPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apierrors.NewSystem("artifact-cache-append", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, entry.marshal()); err != nil {
		return apierrors.NewSystem("artifact-cache-append", err)
	}
	return nil
}

// Query answers a cacheQuery for the given artifact ids, per §4.2:
// cached artifacts report needsTransfer=false with their checksum.
func (c *Cache) Query(artifactIDs []string) []types.ArtifactInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.ArtifactInfo, 0, len(artifactIDs))
	for _, id := range artifactIDs {
		if entry, ok := c.entries[id]; ok {
			out = append(out, types.ArtifactInfo{
				ArtifactID:    id,
				Cached:        true,
				Checksum:      entry.Checksum,
				NeedsTransfer: false,
				TotalSize:     entry.Size,
			})
			continue
		}
		out = append(out, types.ArtifactInfo{
			ArtifactID:    id,
			Cached:        false,
			NeedsTransfer: true,
		})
	}
	return out
}

// Has reports whether artifactID is already cached.
func (c *Cache) Has(artifactID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[artifactID]
	return entry, ok
}

// BeginDownload opens a download state on chunk 0 of an unknown
// artifact. Calling it again for an in-flight artifactID is a no-op,
// since a sender may legitimately retransmit its first chunk.
func (c *Cache) BeginDownload(artifactID string, compression types.Compression, originalSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.downloads[artifactID]; exists {
		return
	}
	c.downloads[artifactID] = &download{
		chunks:       make(map[int64][]byte),
		compression:  compression,
		originalSize: originalSize,
	}
}

// AppendChunk accumulates one chunk of an in-progress download.
func (c *Cache) AppendChunk(artifactID string, sequence int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.downloads[artifactID]
	if !ok {
		return fmt.Errorf("no in-progress download for artifact %s", artifactID)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	d.chunks[sequence] = buf
	return nil
}

// Complete concatenates the accumulated chunks in sequence order,
// decompresses per the download's declared compression, computes the
// SHA-256 of the decompressed payload, persists the blob and appends a
// metadata entry. Returns the computed checksum for the ack.
func (c *Cache) Complete(artifactID string) (checksum string, err error) {
	c.mu.Lock()
	d, ok := c.downloads[artifactID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("no in-progress download for artifact %s", artifactID)
	}
	delete(c.downloads, artifactID)
	c.mu.Unlock()

	var raw bytes.Buffer
	for i := int64(0); i < int64(len(d.chunks)); i++ {
		chunk, ok := d.chunks[i]
		if !ok {
			return "", fmt.Errorf("artifact %s missing chunk sequence %d", artifactID, i)
		}
		raw.Write(chunk)
	}

	payload, err := decompress(raw.Bytes(), d.compression)
	if err != nil {
		return "", fmt.Errorf("decompressing artifact %s: %w", artifactID, err)
	}

	sum := sha256.Sum256(payload)
	checksum = hex.EncodeToString(sum[:])

	if err := os.WriteFile(c.blobPath(artifactID), payload, 0o644); err != nil {
		return "", apierrors.NewSystem("artifact-cache-write", err)
	}

	entry := Entry{
		ArtifactID: artifactID,
		Checksum:   checksum,
		Size:       int64(len(payload)),
		CachedAt:   time.Now(),
	}
	if err := c.appendMetadata(entry); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[artifactID] = entry
	c.mu.Unlock()

	return checksum, nil
}

// Read returns the decompressed payload of a cached artifact.
func (c *Cache) Read(artifactID string) ([]byte, error) {
	if _, ok := c.Has(artifactID); !ok {
		return nil, apierrors.NewNotFound("artifact", artifactID)
	}
	data, err := os.ReadFile(c.blobPath(artifactID))
	if err != nil {
		return nil, apierrors.NewSystem("artifact-cache-read", err)
	}
	return data, nil
}

// Decompress reverses Compress, used by the orchestrator side to read
// an artifact streamed up from a worker without going through the
// worker-side on-disk Cache.
func Decompress(data []byte, compression types.Compression) ([]byte, error) {
	return decompress(data, compression)
}

func decompress(data []byte, compression types.Compression) ([]byte, error) {
	switch compression {
	case types.CompressionNone:
		return data, nil
	case types.CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case types.CompressionZstd:
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

// Compress compresses payload with the requested scheme, used by the
// sender side when shipping a fresh (not yet cached) artifact.
func Compress(payload []byte, compression types.Compression) ([]byte, error) {
	var buf bytes.Buffer
	switch compression {
	case types.CompressionNone:
		return payload, nil
	case types.CompressionGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case types.CompressionZstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

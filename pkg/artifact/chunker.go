package artifact

import (
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
)

// DefaultChunkSize bounds a single ArtifactChunk's payload. Small
// enough to keep gRPC message framing comfortable, large enough that
// per-chunk overhead stays negligible for multi-megabyte artifacts.
const DefaultChunkSize = 256 * 1024

// DefaultWindowSize is how many chunks Window groups together. The
// worker acks only once the final chunk lands, so a sender has no
// per-window ack to wait on.
const DefaultWindowSize = 4

// ChunkSpec is one chunk of a Plan, shaped to become an ArtifactChunk
// wire message.
type ChunkSpec struct {
	Sequence     int64
	Data         []byte
	IsLast       bool
	Compression  types.Compression
	OriginalSize int64
}

// Plan splits a compressed artifact payload into chunk specs of at
// most chunkSize bytes each. originalSize is the pre-compression size,
// carried on every chunk; the worker-side Cache records it but does
// not check the assembled payload against it.
func Plan(artifactID string, compressed []byte, originalSize int64, compression types.Compression, chunkSize int) []ChunkSpec {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if len(compressed) == 0 {
		return []ChunkSpec{{
			Sequence:     0,
			Data:         nil,
			IsLast:       true,
			Compression:  compression,
			OriginalSize: originalSize,
		}}
	}

	var specs []ChunkSpec
	for offset, seq := 0, int64(0); offset < len(compressed); seq++ {
		end := offset + chunkSize
		if end > len(compressed) {
			end = len(compressed)
		}
		specs = append(specs, ChunkSpec{
			Sequence:     seq,
			Data:         compressed[offset:end],
			IsLast:       end == len(compressed),
			Compression:  compression,
			OriginalSize: originalSize,
		})
		offset = end
	}
	return specs
}

// Window splits specs into fixed-size windows. Execution's SendArtifact
// ships every window back to back and then waits for the single ack
// the worker sends after the final chunk; no ack is awaited between
// windows.
func Window(specs []ChunkSpec, windowSize int) [][]ChunkSpec {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	var windows [][]ChunkSpec
	for i := 0; i < len(specs); i += windowSize {
		end := i + windowSize
		if end > len(specs) {
			end = len(specs)
		}
		windows = append(windows, specs[i:end])
	}
	return windows
}

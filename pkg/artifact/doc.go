/*
Package artifact implements the content-addressed cache backing the
Artifact Transfer Engine (C3, §4.2): a worker-side directory keyed by
artifactId, an append-only metadata file recording each cached
artifact's checksum, size and cache time, and the chunk-accumulation
state machine that turns an ArtifactChunk stream into a verified,
decompressed payload on disk.

The cache answers a cacheQuery before any chunk is sent; a cache hit
skips the transfer entirely (§5 scenario 3). A miss opens a download on
chunk 0, accumulates chunks keyed by sequence, and on isLast
concatenates, decompresses per the chunk's declared compression,
computes the SHA-256 of the decompressed payload and persists both the
blob and its metadata line before acknowledging.
*/
package artifact

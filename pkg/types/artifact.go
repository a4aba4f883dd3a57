package types

// Compression selects the on-wire compression applied to an artifact's
// chunk stream (§4.2). GZIP is mandatory; ZSTD is reserved (accepted on
// the wire, decoding wired in, but not yet a sender default).
type Compression string

const (
	CompressionNone Compression = "NONE"
	CompressionGzip Compression = "GZIP"
	CompressionZstd Compression = "ZSTD"
)

// ArtifactInfo is the cache-side summary of one artifact returned by a
// cache query response.
type ArtifactInfo struct {
	ArtifactID       string
	Cached           bool
	Checksum         string
	NeedsTransfer    bool
	TotalSize        int64
}

// InstanceType is one of the compute driver's fixed capacity tiers
// (§4.1). CostWeight is the supplemented-feature relative cost
// multiplier the scheduler's tie-break consults (§4.6, SPEC_FULL.md).
type InstanceType struct {
	Name          string
	CPUMillicores int64
	MemoryBytes   int64
	CostWeight    float64
}

// Fixed instance tiers per §4.1.
var (
	InstanceSmall  = InstanceType{Name: "SMALL", CPUMillicores: 1000, MemoryBytes: 2 << 30, CostWeight: 1.0}
	InstanceMedium = InstanceType{Name: "MEDIUM", CPUMillicores: 2000, MemoryBytes: 4 << 30, CostWeight: 2.0}
	InstanceLarge  = InstanceType{Name: "LARGE", CPUMillicores: 4000, MemoryBytes: 8 << 30, CostWeight: 4.0}
	InstanceXLarge = InstanceType{Name: "XLARGE", CPUMillicores: 8000, MemoryBytes: 16 << 30, CostWeight: 8.0}
)

// StandardInstanceTypes returns the fixed, non-CUSTOM tiers in
// ascending capacity order.
func StandardInstanceTypes() []InstanceType {
	return []InstanceType{InstanceSmall, InstanceMedium, InstanceLarge, InstanceXLarge}
}

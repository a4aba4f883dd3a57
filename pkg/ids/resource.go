package ids

import (
	"strconv"
	"strings"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
)

// ParseCPUMillicores parses a canonical CPU resource string into
// millicores. Accepted forms, per §3's WorkerTemplate canonical strings:
// "<n>m" for millicores directly, or "<n>" for whole cores (multiplied
// by 1000). "0" and "0m" both parse to zero and never cause a
// divide-by-zero downstream (§8 boundary behaviour).
func ParseCPUMillicores(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apierrors.NewValidation("cpu", "must not be blank")
	}

	if strings.HasSuffix(s, "m") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "m"), 10, 64)
		if err != nil || n < 0 {
			return 0, apierrors.NewValidation("cpu", "invalid millicore value: "+s)
		}
		return n, nil
	}

	cores, err := strconv.ParseFloat(s, 64)
	if err != nil || cores < 0 {
		return 0, apierrors.NewValidation("cpu", "invalid core value: "+s)
	}
	return int64(cores * 1000), nil
}

// FormatCPUMillicores renders millicores back into the canonical "<n>m"
// form used on the wire and in WorkerTemplate specs.
func FormatCPUMillicores(m int64) string {
	return strconv.FormatInt(m, 10) + "m"
}

// memoryUnits maps the accepted binary-suffix annotations to their byte
// multiplier. Unit-less values are treated as raw bytes.
var memoryUnits = map[string]int64{
	"Ki": 1024,
	"Mi": 1024 * 1024,
	"Gi": 1024 * 1024 * 1024,
	"Ti": 1024 * 1024 * 1024 * 1024,
}

// ParseMemoryBytes parses a memory resource string. It accepts a
// unit-less byte count or a value suffixed with Ki|Mi|Gi|Ti. Any other
// suffix is a ValidationError, per §8's boundary behaviour.
func ParseMemoryBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, apierrors.NewValidation("memory", "must not be blank")
	}

	for suffix, multiplier := range memoryUnits {
		if strings.HasSuffix(s, suffix) {
			numeric := strings.TrimSuffix(s, suffix)
			n, err := strconv.ParseInt(numeric, 10, 64)
			if err != nil || n < 0 {
				return 0, apierrors.NewValidation("memory", "invalid quantity: "+s)
			}
			return n * multiplier, nil
		}
	}

	// No recognized suffix: must be a plain non-negative integer (bytes).
	if !isPlainInteger(s) {
		return 0, apierrors.NewValidation("memory", "unknown unit suffix: "+s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, apierrors.NewValidation("memory", "invalid quantity: "+s)
	}
	return n, nil
}

// FormatMemoryBytes renders a byte count using the largest whole-number
// binary unit that divides it evenly, falling back to a plain byte count.
func FormatMemoryBytes(bytes int64) string {
	units := []struct {
		suffix string
		scale  int64
	}{
		{"Ti", memoryUnits["Ti"]},
		{"Gi", memoryUnits["Gi"]},
		{"Mi", memoryUnits["Mi"]},
		{"Ki", memoryUnits["Ki"]},
	}
	for _, u := range units {
		if bytes != 0 && bytes%u.scale == 0 {
			return strconv.FormatInt(bytes/u.scale, 10) + u.suffix
		}
	}
	return strconv.FormatInt(bytes, 10)
}

func isPlainInteger(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

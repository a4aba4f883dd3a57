package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCPUMillicores(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "zero cores", input: "0", want: 0},
		{name: "zero millicores", input: "0m", want: 0},
		{name: "millicores", input: "500m", want: 500},
		{name: "whole core", input: "1", want: 1000},
		{name: "fractional core", input: "0.5", want: 500},
		{name: "negative millicores rejected", input: "-10m", wantErr: true},
		{name: "garbage rejected", input: "abc", wantErr: true},
		{name: "blank rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCPUMillicores(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMemoryBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "unit-less bytes", input: "1024", want: 1024},
		{name: "kibibytes", input: "1Ki", want: 1024},
		{name: "mebibytes", input: "512Mi", want: 512 * 1024 * 1024},
		{name: "gibibytes", input: "2Gi", want: 2 * 1024 * 1024 * 1024},
		{name: "tebibytes", input: "1Ti", want: 1024 * 1024 * 1024 * 1024},
		{name: "unknown suffix rejected", input: "5Xi", wantErr: true},
		{name: "blank rejected", input: "", wantErr: true},
		{name: "negative rejected", input: "-5Mi", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMemoryBytes(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMemoryBytesRoundTrip(t *testing.T) {
	for _, s := range []string{"1Ki", "512Mi", "2Gi", "1Ti"} {
		n, err := ParseMemoryBytes(s)
		assert.NoError(t, err)
		assert.Equal(t, s, FormatMemoryBytes(n))
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0", "1.0.0", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

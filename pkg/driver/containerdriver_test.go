package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels map[string]string
		want   string
	}{
		{name: "empty", labels: nil, want: ""},
		{name: "single", labels: map[string]string{"team": "ci"}, want: "team=ci"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeLabels(tt.labels))
		})
	}
}

func TestAvailableInstanceTypesIncludesCustomTier(t *testing.T) {
	d := &ContainerDaemonDriver{}
	types, err := d.AvailableInstanceTypes(nil, "pool-1")

	assert.NoError(t, err)
	assert.Len(t, types, 5)
	assert.Equal(t, "CUSTOM", types[len(types)-1].Name)
}

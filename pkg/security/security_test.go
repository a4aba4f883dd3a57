package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissiveAuthorizesEverything(t *testing.T) {
	assert.NoError(t, Permissive{}.Authorize("rm -rf /", []string{"anything"}))
}

func TestDenyListRejectsDeniedLibrary(t *testing.T) {
	d := DenyList{DeniedLibraries: map[string]bool{"net/http": true}}
	err := d.Authorize("print('hi')", []string{"net/http"})
	assert.Error(t, err)
}

func TestDenyListRejectsDeniedSubstring(t *testing.T) {
	d := DenyList{DeniedSubstrings: []string{"curl "}}
	err := d.Authorize("curl http://evil", nil)
	assert.Error(t, err)
}

func TestDenyListAllowsClean(t *testing.T) {
	d := DenyList{DeniedSubstrings: []string{"curl "}, DeniedLibraries: map[string]bool{"net/http": true}}
	assert.NoError(t, d.Authorize("echo hi", []string{"fmt"}))
}

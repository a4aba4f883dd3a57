// Package security defines the SecurityManager port named in §6: the
// worker-side pre-execution authorization check a JobDefinition's
// script and requested libraries must pass before the worker agent
// runs them. The policy engine behind this port is explicitly an
// external collaborator (§1 non-goals name the step DSL sandboxed
// runtime out of scope); this package carries the port shape plus a
// permissive default so pkg/workeragent is runnable standalone.
//
// Grounded on the teacher's pkg/security package existing as the
// cluster's security boundary; only the port shape survives here since
// the actual CA/secrets/certificate machinery belongs to the cluster
// manager this spec does not reimplement.
package security

import "fmt"

// Manager authorizes a job's script and requested libraries before the
// worker agent executes it.
type Manager interface {
	Authorize(script string, libraries []string) error
}

// DeniedError reports that Authorize rejected a script or library.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("security policy denied execution: %s", e.Reason)
}

// Permissive is the default Manager: it authorizes everything. A real
// deployment supplies its own Manager wired to whatever policy engine
// governs that cluster; this implementation exists so the worker agent
// has a usable default when none is configured.
type Permissive struct{}

// Authorize always succeeds.
func (Permissive) Authorize(script string, libraries []string) error {
	return nil
}

// DenyList rejects any script containing a denied substring or any
// library present in its deny set. A minimal concrete policy, useful
// for tests and simple deployments that don't need a full policy
// engine.
type DenyList struct {
	DeniedSubstrings []string
	DeniedLibraries  map[string]bool
}

// Authorize checks script against DeniedSubstrings and each entry in
// libraries against DeniedLibraries.
func (d DenyList) Authorize(script string, libraries []string) error {
	for _, bad := range d.DeniedSubstrings {
		if bad != "" && contains(script, bad) {
			return &DeniedError{Reason: fmt.Sprintf("script contains denied substring %q", bad)}
		}
	}
	for _, lib := range libraries {
		if d.DeniedLibraries[lib] {
			return &DeniedError{Reason: fmt.Sprintf("library %q is denied", lib)}
		}
	}
	return nil
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

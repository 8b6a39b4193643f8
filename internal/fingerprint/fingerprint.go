// Package fingerprint derives deterministic cache keys from dependency
// manifests.
//
// A fingerprint is a sha256 digest over the manifest's canonical bytes
// and a scope string (typically a branch or environment name). Identical
// manifest content in the same scope always produces the same fingerprint
// on any machine; the same content in a different scope never collides
// with it. This determinism is what makes dependency-layer reuse safe.
package fingerprint

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/stratabuild/stratad/internal/manifest"
)

// Number of hex characters in the short display form.
const shortLen = 12

var (
	ErrInvalidScope = errors.New("invalid scope")
)

// Identifies a canonicalized manifest within a scope.
type Fingerprint struct {
	digest digest.Digest // Full content digest, used for store addressing.
	scope  string        // Scope the fingerprint was computed for.
}

// Computes the fingerprint of a manifest within a scope.
//
// The scope must be non-empty; cache keys without a scope would collide
// across unrelated build lineages. The empty manifest is valid and yields
// a fixed fingerprint per scope. The computation is pure: no I/O, no
// ambient state.
func New(m manifest.Manifest, scope string) (Fingerprint, error) {
	if scope == "" {
		return Fingerprint{}, fmt.Errorf("%w: scope must be non-empty", ErrInvalidScope)
	}

	// The NUL separator keeps (manifest, scope) pairs unambiguous: no
	// manifest byte sequence can run into the scope and alias another pair.
	payload := append(m.Canonical(), 0)
	payload = append(payload, scope...)

	return Fingerprint{
		digest: digest.SHA256.FromBytes(payload),
		scope:  scope,
	}, nil
}

// Derives a subordinate fingerprint from additional components.
//
// The derived digest covers the parent digest and each component, NUL
// separated, and keeps the parent's scope. Distinct component lists
// always yield distinct fingerprints, so two cacheable stages of one
// build can never share a cache key.
func (f Fingerprint) Derive(components ...string) Fingerprint {
	payload := []byte(f.digest.String())
	for _, c := range components {
		payload = append(payload, 0)
		payload = append(payload, c...)
	}

	return Fingerprint{
		digest: digest.SHA256.FromBytes(payload),
		scope:  f.scope,
	}
}

// Returns the full content digest.
func (f Fingerprint) Digest() digest.Digest {
	return f.digest
}

// Returns the scope the fingerprint was computed for.
func (f Fingerprint) Scope() string {
	return f.scope
}

// Returns the short display form: the first 12 hex characters of the digest.
func (f Fingerprint) Short() string {
	return f.digest.Encoded()[:shortLen]
}

// Returns the short display form.
func (f Fingerprint) String() string {
	return f.Short()
}

// Reports whether the fingerprint has been computed.
func (f Fingerprint) IsZero() bool {
	return f.digest == ""
}

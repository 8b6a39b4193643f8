package cache

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stratabuild/stratad/internal/fingerprint"
)

// Media type recorded on published dependency-layer blobs.
const ArtifactMediaType = "application/vnd.strata.layer.v1.tar"

// A content-addressed reference to stored artifact bytes.
type Artifact struct {
	Ref        string             // Human-readable reference, e.g. "dep-main-4f2a91c0be77".
	Descriptor ocispec.Descriptor // OCI descriptor: media type, digest, size.
	Path       string             // Local path to the artifact bytes, when materialized.
}

// Returns the content digest of the artifact.
func (a Artifact) Digest() digest.Digest {
	return a.Descriptor.Digest
}

// A record of a published artifact. Entries are immutable; garbage
// collection of old entries happens outside the store.
type CacheEntry struct {
	Fingerprint fingerprint.Fingerprint // Key the artifact was published under.
	Artifact    Artifact                // Published artifact reference.
	CreatedAt   time.Time               // When the entry was created.
}

// Maps fingerprints to immutable build artifacts.
//
// All operations are safe to retry: reads are idempotent and writes are
// content-addressed, so a retried publish converges on the same entry.
// The scope is carried by the fingerprint itself, so keys never collide
// across build lineages.
type Store interface {

	// Reports whether an artifact has been published for the fingerprint.
	//
	// A failure to reach the backing store is reported as
	// [ErrRegistryUnavailable], never as absence: callers must not
	// rebuild (and later republish) just because the registry is down.
	Exists(ctx context.Context, fp fingerprint.Fingerprint) (bool, error)

	// Retrieves a previously published artifact, materializing its bytes
	// into destDir. Fails with [ErrNotFound] when no artifact has been
	// published for the fingerprint.
	Fetch(ctx context.Context, fp fingerprint.Fingerprint, destDir string) (Artifact, error)

	// Publishes the artifact bytes at path under the fingerprint.
	//
	// Idempotent for byte-identical content. Publishing different
	// content under an existing key fails with [ErrCacheCorruption].
	// The entry only becomes visible to Exists and Fetch once the
	// publish has fully completed.
	Publish(ctx context.Context, fp fingerprint.Fingerprint, path string) (CacheEntry, error)
}

// Returns the store key for a fingerprint: scope-qualified short digest.
func storeKey(fp fingerprint.Fingerprint) string {
	return fp.Scope() + "/" + fp.Short()
}

// Returns the human-readable artifact reference for a fingerprint.
func artifactRef(fp fingerprint.Fingerprint) string {
	return "dep-" + fp.Scope() + "-" + fp.Short()
}

package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stratabuild/stratad/internal/fingerprint"
)

// An in-process [Store] holding artifact bytes in memory.
//
// Safe for concurrent use. Intended for tests and single-shot builds
// where no registry is configured; nothing survives the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry

	// When true, all operations fail with [ErrRegistryUnavailable].
	// Lets tests exercise the unreachable-registry path.
	Unavailable bool
}

type memoryEntry struct {
	entry CacheEntry
	blob  []byte
}

// Creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Reports whether an artifact has been published for the fingerprint.
func (s *MemoryStore) Exists(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Unavailable {
		return false, fmt.Errorf("%w: memory store marked unavailable", ErrRegistryUnavailable)
	}

	_, ok := s.entries[storeKey(fp)]
	return ok, nil
}

// Retrieves a published artifact, writing its bytes into destDir.
func (s *MemoryStore) Fetch(ctx context.Context, fp fingerprint.Fingerprint, destDir string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Unavailable {
		return Artifact{}, fmt.Errorf("%w: memory store marked unavailable", ErrRegistryUnavailable)
	}

	ent, ok := s.entries[storeKey(fp)]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}

	path := filepath.Join(destDir, ent.entry.Artifact.Ref+".tar")
	if err := os.WriteFile(path, ent.blob, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	artifact := ent.entry.Artifact
	artifact.Path = path
	return artifact, nil
}

// Publishes the artifact bytes at path under the fingerprint.
//
// Concurrent publishes for the same key are serialized; the first
// successful publish wins and identical retries are no-ops.
func (s *MemoryStore) Publish(ctx context.Context, fp fingerprint.Fingerprint, path string) (CacheEntry, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Unavailable {
		return CacheEntry{}, fmt.Errorf("%w: memory store marked unavailable", ErrRegistryUnavailable)
	}

	key := storeKey(fp)
	dgst := digest.SHA256.FromBytes(blob)

	if existing, ok := s.entries[key]; ok {
		if existing.entry.Artifact.Digest() == dgst {
			return existing.entry, nil
		}
		return CacheEntry{}, fmt.Errorf("%w: key %s already holds %s, refusing to overwrite with %s",
			ErrCacheCorruption, key, existing.entry.Artifact.Digest(), dgst)
	}

	entry := CacheEntry{
		Fingerprint: fp,
		Artifact: Artifact{
			Ref: artifactRef(fp),
			Descriptor: ocispec.Descriptor{
				MediaType: ArtifactMediaType,
				Digest:    dgst,
				Size:      int64(len(blob)),
			},
		},
		CreatedAt: time.Now().UTC(),
	}
	s.entries[key] = &memoryEntry{entry: entry, blob: bytes.Clone(blob)}

	return entry, nil
}

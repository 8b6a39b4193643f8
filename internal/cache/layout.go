package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stratabuild/stratad/internal/fingerprint"
	"github.com/stratabuild/stratad/internal/paths"
)

// Annotations recorded on layout index entries.
const (
	annotationKey     = "build.strata.cache-key"
	annotationCreated = "build.strata.created"
)

// A [Store] backed by an OCI image layout directory.
//
// Artifact bytes live under blobs/sha256 and the fingerprint-to-blob
// mapping is kept as annotated descriptors in index.json, so the whole
// directory can be synced to or served by any OCI registry. Blob and
// index writes go through a temp file and an atomic rename: a partially
// published artifact is never visible to readers.
type LayoutStore struct {
	root string
	mu   sync.Mutex
}

// Opens (creating if necessary) an OCI layout store rooted at dir.
func NewLayoutStore(dir string) (*LayoutStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs", "sha256"), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	layoutPath := filepath.Join(dir, ocispec.ImageLayoutFile)
	if _, err := os.Stat(layoutPath); errors.Is(err, os.ErrNotExist) {
		data, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStore, err)
		}
		if err := os.WriteFile(layoutPath, data, paths.DefaultFileMode); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStore, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}

	return &LayoutStore{root: dir}, nil
}

// Reports whether an artifact has been published for the fingerprint.
func (s *LayoutStore) Exists(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return false, err
	}

	_, ok := findDescriptor(index, storeKey(fp))
	return ok, nil
}

// Retrieves a published artifact, copying its blob into destDir.
//
// The blob is verified against its recorded digest while copying.
func (s *LayoutStore) Fetch(ctx context.Context, fp fingerprint.Fingerprint, destDir string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return Artifact{}, err
	}

	desc, ok := findDescriptor(index, storeKey(fp))
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, fp)
	}

	ref := desc.Annotations[ocispec.AnnotationRefName]
	dest := filepath.Join(destDir, ref+".tar")
	if err := s.copyBlob(desc, dest); err != nil {
		return Artifact{}, err
	}

	return Artifact{Ref: ref, Descriptor: desc, Path: dest}, nil
}

// Publishes the artifact bytes at path under the fingerprint.
func (s *LayoutStore) Publish(ctx context.Context, fp fingerprint.Fingerprint, path string) (CacheEntry, error) {
	dgst, size, err := digestFile(path)
	if err != nil {
		return CacheEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return CacheEntry{}, err
	}

	key := storeKey(fp)
	if existing, ok := findDescriptor(index, key); ok {
		if existing.Digest == dgst {
			return entryFromDescriptor(fp, existing), nil
		}
		return CacheEntry{}, fmt.Errorf("%w: key %s already holds %s, refusing to overwrite with %s",
			ErrCacheCorruption, key, existing.Digest, dgst)
	}

	if err := s.writeBlob(path, dgst); err != nil {
		return CacheEntry{}, err
	}

	createdAt := time.Now().UTC()
	desc := ocispec.Descriptor{
		MediaType: ArtifactMediaType,
		Digest:    dgst,
		Size:      size,
		Annotations: map[string]string{
			annotationKey:             key,
			annotationCreated:         createdAt.Format(time.RFC3339Nano),
			ocispec.AnnotationRefName: artifactRef(fp),
		},
	}
	index.Manifests = append(index.Manifests, desc)

	if err := s.writeIndex(index); err != nil {
		return CacheEntry{}, err
	}

	return CacheEntry{
		Fingerprint: fp,
		Artifact:    Artifact{Ref: artifactRef(fp), Descriptor: desc},
		CreatedAt:   createdAt,
	}, nil
}

// Reads the layout index. A missing index means an empty store; any
// other read failure is reported as the registry being unreachable.
func (s *LayoutStore) readIndex() (ocispec.Index, error) {
	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
	}

	data, err := os.ReadFile(filepath.Join(s.root, "index.json"))
	if errors.Is(err, os.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return ocispec.Index{}, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}

	if err := json.Unmarshal(data, &index); err != nil {
		return ocispec.Index{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return index, nil
}

// Writes the layout index atomically.
func (s *LayoutStore) writeIndex(index ocispec.Index) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return s.atomicWrite(filepath.Join(s.root, "index.json"), func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// Copies the file at path into the blob directory under its digest.
// Already-present blobs are left untouched (content-addressed, so the
// bytes are necessarily identical).
func (s *LayoutStore) writeBlob(path string, dgst digest.Digest) error {
	blobPath := s.blobPath(dgst)
	if _, err := os.Stat(blobPath); err == nil {
		return nil
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer src.Close()

	return s.atomicWrite(blobPath, func(f *os.File) error {
		_, err := io.Copy(f, src)
		return err
	})
}

// Copies a stored blob to dest, verifying its digest on the way out.
func (s *LayoutStore) copyBlob(desc ocispec.Descriptor, dest string) error {
	src, err := os.Open(s.blobPath(desc.Digest))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	defer src.Close()

	verifier := desc.Digest.Verifier()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer out.Close()

	if _, err := io.Copy(io.MultiWriter(out, verifier), src); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: blob %s failed digest verification", ErrCacheCorruption, desc.Digest)
	}
	return nil
}

// Writes a file via a temp file in the same directory and an atomic rename.
func (s *LayoutStore) atomicWrite(dest string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// Returns the path of a blob within the layout.
func (s *LayoutStore) blobPath(dgst digest.Digest) string {
	return filepath.Join(s.root, "blobs", dgst.Algorithm().String(), dgst.Encoded())
}

// Searches the index for the descriptor published under key.
func findDescriptor(index ocispec.Index, key string) (ocispec.Descriptor, bool) {
	for _, desc := range index.Manifests {
		if desc.Annotations[annotationKey] == key {
			return desc, true
		}
	}
	return ocispec.Descriptor{}, false
}

// Reconstructs a cache entry from an index descriptor.
func entryFromDescriptor(fp fingerprint.Fingerprint, desc ocispec.Descriptor) CacheEntry {
	createdAt, _ := time.Parse(time.RFC3339Nano, desc.Annotations[annotationCreated])
	return CacheEntry{
		Fingerprint: fp,
		Artifact:    Artifact{Ref: desc.Annotations[ocispec.AnnotationRefName], Descriptor: desc},
		CreatedAt:   createdAt,
	}
}

// Computes the digest and size of a file.
func digestFile(path string) (digest.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrStore, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrStore, err)
	}

	dgst, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return dgst, info.Size(), nil
}

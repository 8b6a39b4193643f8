package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stratabuild/stratad/internal/fingerprint"
	"github.com/stratabuild/stratad/internal/manifest"
)

func testFingerprint(t *testing.T, content, scope string) fingerprint.Fingerprint {
	t.Helper()
	m, err := manifest.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	fp, err := fingerprint.New(m, scope)
	if err != nil {
		t.Fatal(err)
	}
	return fp
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact.tar")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Runs the Store contract tests against each implementation.
func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"layout": func(t *testing.T) Store {
			s, err := NewLayoutStore(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return s
		},
	}
}

func TestStorePublishFetch(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			fp := testFingerprint(t, "pkga ^1.0", "main")

			ok, err := s.Exists(ctx, fp)
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Fatal("empty store reports artifact present")
			}

			entry, err := s.Publish(ctx, fp, writeArtifact(t, "layer-bytes"))
			if err != nil {
				t.Fatal(err)
			}
			if entry.Artifact.Ref == "" {
				t.Fatal("published entry has no ref")
			}
			if entry.CreatedAt.IsZero() {
				t.Fatal("published entry has no timestamp")
			}

			ok, err = s.Exists(ctx, fp)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("published artifact not reported by Exists")
			}

			got, err := s.Fetch(ctx, fp, t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			data, err := os.ReadFile(got.Path)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != "layer-bytes" {
				t.Fatalf("fetched %q, want %q", data, "layer-bytes")
			}
			if got.Digest() != entry.Artifact.Digest() {
				t.Fatalf("fetched digest %s, want %s", got.Digest(), entry.Artifact.Digest())
			}
		})
	}
}

func TestStoreFetchAbsent(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			fp := testFingerprint(t, "pkga", "main")

			_, err := s.Fetch(context.Background(), fp, t.TempDir())
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStorePublishIdempotent(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			fp := testFingerprint(t, "pkga", "main")

			first, err := s.Publish(ctx, fp, writeArtifact(t, "same-bytes"))
			if err != nil {
				t.Fatal(err)
			}
			second, err := s.Publish(ctx, fp, writeArtifact(t, "same-bytes"))
			if err != nil {
				t.Fatalf("identical republish failed: %v", err)
			}
			if first.Artifact.Digest() != second.Artifact.Digest() {
				t.Fatal("republish changed the stored digest")
			}
		})
	}
}

func TestStorePublishCorruption(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			fp := testFingerprint(t, "pkga", "main")

			if _, err := s.Publish(ctx, fp, writeArtifact(t, "original")); err != nil {
				t.Fatal(err)
			}
			_, err := s.Publish(ctx, fp, writeArtifact(t, "different"))
			if !errors.Is(err, ErrCacheCorruption) {
				t.Fatalf("error = %v, want ErrCacheCorruption", err)
			}

			// The original content must be untouched.
			got, err := s.Fetch(ctx, fp, t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			data, err := os.ReadFile(got.Path)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != "original" {
				t.Fatalf("stored content changed to %q", data)
			}
		})
	}
}

func TestStoreScopeIsolation(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			main := testFingerprint(t, "pkga", "main")
			feature := testFingerprint(t, "pkga", "feature")

			if _, err := s.Publish(ctx, main, writeArtifact(t, "main-bytes")); err != nil {
				t.Fatal(err)
			}

			ok, err := s.Exists(ctx, feature)
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Fatal("publish in one scope is visible in another")
			}
		})
	}
}

func TestMemoryStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Unavailable = true
	fp := testFingerprint(t, "pkga", "main")

	if _, err := s.Exists(ctx, fp); !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("Exists error = %v, want ErrRegistryUnavailable", err)
	}
	if _, err := s.Fetch(ctx, fp, t.TempDir()); !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("Fetch error = %v, want ErrRegistryUnavailable", err)
	}
	if _, err := s.Publish(ctx, fp, writeArtifact(t, "x")); !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("Publish error = %v, want ErrRegistryUnavailable", err)
	}
}

func TestLayoutStoreReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLayoutStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp := testFingerprint(t, "pkga ^1.0", "main")
	if _, err := s.Publish(ctx, fp, writeArtifact(t, "persisted")); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same directory sees the published entry.
	reopened, err := NewLayoutStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := reopened.Exists(ctx, fp)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("entry lost across reopen")
	}
}

func TestLayoutStoreNoPartialBlobs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewLayoutStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp := testFingerprint(t, "pkga", "main")
	if _, err := s.Publish(ctx, fp, writeArtifact(t, "blob")); err != nil {
		t.Fatal(err)
	}

	// No temp files may survive a completed publish.
	matches, err := filepath.Glob(filepath.Join(dir, "blobs", "sha256", ".tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("leftover temp files: %v", matches)
	}
}

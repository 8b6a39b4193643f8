package fingerprint

import (
	"errors"
	"strings"
	"testing"

	"github.com/stratabuild/stratad/internal/manifest"
)

func mustParse(t *testing.T, s string) manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewDeterministic(t *testing.T) {
	m := mustParse(t, "pkga ^1.0\npkgb")

	a, err := New(m, "main")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(m, "main")
	if err != nil {
		t.Fatal(err)
	}

	if a.Digest() != b.Digest() {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
}

func TestNewPermutationInvariant(t *testing.T) {
	a, err := New(mustParse(t, "pkga ^1.0\npkgb"), "main")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(mustParse(t, "# comment\npkgb\n\n  pkga   ^1.0"), "main")
	if err != nil {
		t.Fatal(err)
	}

	if a.Digest() != b.Digest() {
		t.Fatalf("permuted manifest changed the fingerprint: %s vs %s", a, b)
	}
}

func TestNewScopeIsolation(t *testing.T) {
	m := mustParse(t, "pkga 1.0.0")

	a, err := New(m, "main")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(m, "feature")
	if err != nil {
		t.Fatal(err)
	}

	if a.Digest() == b.Digest() {
		t.Fatal("different scopes produced the same fingerprint")
	}
}

func TestNewContentSensitivity(t *testing.T) {
	a, err := New(mustParse(t, "pkga ^1.0"), "main")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(mustParse(t, "pkga ^2.0"), "main")
	if err != nil {
		t.Fatal(err)
	}

	if a.Digest() == b.Digest() {
		t.Fatal("different constraints produced the same fingerprint")
	}
}

func TestNewEmptyManifest(t *testing.T) {
	a, err := New(nil, "main")
	if err != nil {
		t.Fatalf("empty manifest should be valid: %v", err)
	}
	b, err := New(nil, "main")
	if err != nil {
		t.Fatal(err)
	}

	if a.Digest() != b.Digest() {
		t.Fatal("empty manifest fingerprint is not stable")
	}
	if a.IsZero() {
		t.Fatal("computed fingerprint reports zero")
	}
}

func TestNewEmptyScope(t *testing.T) {
	_, err := New(mustParse(t, "pkga"), "")
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("error = %v, want ErrInvalidScope", err)
	}
}

func TestDerive(t *testing.T) {
	f, err := New(mustParse(t, "pkga ^1.0"), "main")
	if err != nil {
		t.Fatal(err)
	}

	deps := f.Derive("deps")
	if deps.Digest() == f.Digest() {
		t.Fatal("derived fingerprint equals its parent")
	}
	if deps.Digest() != f.Derive("deps").Digest() {
		t.Fatal("derivation is not deterministic")
	}
	if deps.Scope() != f.Scope() {
		t.Fatalf("derived scope = %q, want %q", deps.Scope(), f.Scope())
	}

	if f.Derive("deps").Digest() == f.Derive("deps2").Digest() {
		t.Fatal("different components produced the same derived fingerprint")
	}
	if f.Derive("deps", "1").Digest() == f.Derive("deps", "2").Digest() {
		t.Fatal("different extra components produced the same derived fingerprint")
	}
	if f.Derive("a", "b").Digest() == f.Derive("ab").Digest() {
		t.Fatal("component boundaries are ambiguous")
	}
}

func TestShort(t *testing.T) {
	f, err := New(mustParse(t, "pkga"), "main")
	if err != nil {
		t.Fatal(err)
	}

	if len(f.Short()) != shortLen {
		t.Fatalf("short form %q, want %d hex chars", f.Short(), shortLen)
	}
	if f.String() != f.Short() {
		t.Fatal("String and Short disagree")
	}
}

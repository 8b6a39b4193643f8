package manifest

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// A single declared dependency.
type Entry struct {
	Name       string // Package name.
	Constraint string // Semver constraint, empty when unpinned.
}

// An ordered set of declared dependencies.
type Manifest []Entry

// Parses a manifest from its textual form.
//
// Each non-empty line declares one dependency: the package name, optionally
// followed by a version constraint. Lines starting with '#' are comments.
// Constraints must parse as semver ranges; anything else fails with
// [ErrInvalidManifest].
func Parse(r io.Reader) (Manifest, error) {
	var m Manifest

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++

		entry, ok, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidManifest, line, err)
		}
		if ok {
			m = append(m, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return m, nil
}

// Parses a single manifest line.
//
// Returns ok=false for blank lines and comments.
func parseLine(s string) (Entry, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") {
		return Entry{}, false, nil
	}

	name, constraint, _ := strings.Cut(s, " ")
	constraint = strings.TrimSpace(constraint)

	if constraint != "" {
		if _, err := semver.NewConstraint(constraint); err != nil {
			return Entry{}, false, fmt.Errorf("constraint %q for %s: %w", constraint, name, err)
		}
	}

	return Entry{Name: name, Constraint: constraint}, true, nil
}

// Returns the canonical byte form of the manifest.
//
// Entries are sorted by name, then constraint, and serialized one per line.
// Manifests declaring the same content in any order or formatting produce
// identical canonical bytes. The empty manifest canonicalizes to nil.
func (m Manifest) Canonical() []byte {
	if len(m) == 0 {
		return nil
	}

	sorted := slices.Clone(m)
	slices.SortFunc(sorted, func(a, b Entry) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Constraint, b.Constraint)
	})

	var sb strings.Builder
	for _, e := range sorted {
		sb.WriteString(e.Name)
		if e.Constraint != "" {
			sb.WriteByte(' ')
			sb.WriteString(e.Constraint)
		}
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// Reports whether the manifest declares no dependencies.
func (m Manifest) Empty() bool {
	return len(m) == 0
}

// Package assemble produces the final runtime artifact of a build.
//
// Assembly copies a declared set of paths out of upstream stage
// artifacts (the cached dependency layer and the validated application
// layer) into a single archive, leaving build tooling and test material
// behind. The copy-set is data, not inferred from stage instructions,
// so the runtime closure of an image is auditable up front.
//
// The output is deterministic: entries are sorted, timestamps and
// ownership are normalized, and identical inputs always produce a
// byte-identical archive. Downstream content addressing (registry
// deduplication) depends on this.
package assemble

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/stratabuild/stratad/internal/cache"
	"github.com/stratabuild/stratad/internal/gate"
)

var (
	ErrAssemblyIncomplete = errors.New("assembly incomplete")
	ErrGateNotPassed      = errors.New("test gate not passed")
	ErrAssembly           = errors.New("assembly failed")
)

// Media type of assembled runtime artifacts.
const runtimeMediaType = "application/vnd.strata.runtime.v1.tar"

// A single copy declaration: take Path from the artifact produced by
// stage From and place it at Dest in the runtime artifact.
type Copy struct {
	From string `json:"from"` // Producing stage name.
	Path string `json:"path"` // Source path within that stage's artifact.
	Dest string `json:"dest"` // Destination path in the runtime artifact.
}

// An archive entry staged for the output, keyed by destination name.
type entry struct {
	header  *tar.Header
	content []byte
}

// Assembles the runtime artifact from upstream stage artifacts.
//
// The report must come from this build's test stage and must have
// passed; assembly is unreachable otherwise. Every copy source must
// resolve to at least one entry in its input artifact, or the whole
// assembly fails with [ErrAssemblyIncomplete] — a missing path is a
// copy-set defect, not a transient condition. The assembled archive is
// written to output and returned as a content-addressed artifact.
func Assemble(ctx context.Context, inputs map[string]cache.Artifact, copies []Copy, report *gate.Report, output string) (cache.Artifact, error) {
	if report == nil {
		return cache.Artifact{}, fmt.Errorf("%w: no test report", ErrGateNotPassed)
	}
	if err := report.Gate(); err != nil {
		return cache.Artifact{}, fmt.Errorf("%w: %w", ErrGateNotPassed, err)
	}

	entries := make(map[string]entry)
	for _, c := range copies {
		if err := ctx.Err(); err != nil {
			return cache.Artifact{}, err
		}

		input, ok := inputs[c.From]
		if !ok {
			return cache.Artifact{}, fmt.Errorf("%w: no artifact for stage %q", ErrAssemblyIncomplete, c.From)
		}

		n, err := collect(input.Path, c, entries)
		if err != nil {
			return cache.Artifact{}, err
		}
		if n == 0 {
			return cache.Artifact{}, fmt.Errorf("%w: path %q not present in artifact of stage %q", ErrAssemblyIncomplete, c.Path, c.From)
		}
	}

	dgst, size, err := writeArchive(output, entries)
	if err != nil {
		return cache.Artifact{}, err
	}

	return cache.Artifact{
		Ref:  "runtime-" + dgst.Encoded()[:12],
		Path: output,
		Descriptor: ocispec.Descriptor{
			MediaType: runtimeMediaType,
			Digest:    dgst,
			Size:      size,
		},
	}, nil
}

// Reads the input archive and stages every entry under the copy's source
// path, remapped to its destination. Returns the number of entries
// staged. Later copies override earlier ones at the same destination.
func collect(archivePath string, c Copy, entries map[string]entry) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAssembly, err)
	}
	defer f.Close()

	src := path.Clean("/" + c.Path)
	dest := path.Clean("/" + c.Dest)

	count := 0
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: reading %s: %w", ErrAssembly, archivePath, err)
		}

		name, ok := remap(hdr.Name, src, dest)
		if !ok {
			continue
		}

		var content []byte
		if hdr.Typeflag == tar.TypeReg {
			content, err = io.ReadAll(tr)
			if err != nil {
				return 0, fmt.Errorf("%w: reading %s: %w", ErrAssembly, hdr.Name, err)
			}
		}

		entries[name] = entry{header: normalize(hdr, name), content: content}
		count++
	}

	return count, nil
}

// Maps an archive entry name onto its destination when it falls under
// the copy source path. Entry names are compared rooted at "/".
func remap(name, src, dest string) (string, bool) {
	n := path.Clean("/" + name)
	if n == src {
		return strings.TrimPrefix(dest, "/"), true
	}
	if strings.HasPrefix(n, src+"/") {
		return strings.TrimPrefix(path.Join(dest, strings.TrimPrefix(n, src+"/")), "/"), true
	}
	return "", false
}

// Returns a copy of the header with everything non-deterministic zeroed:
// timestamps, ownership, and user names. Mode and type are preserved.
func normalize(hdr *tar.Header, name string) *tar.Header {
	return &tar.Header{
		Typeflag: hdr.Typeflag,
		Name:     name,
		Linkname: hdr.Linkname,
		Size:     hdr.Size,
		Mode:     hdr.Mode,
		Format:   tar.FormatPAX,
	}
}

// Writes the staged entries as a sorted tar archive and returns its
// content digest and size.
func writeArchive(output string, entries map[string]entry) (digest.Digest, int64, error) {
	f, err := os.Create(output)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrAssembly, err)
	}
	defer f.Close()

	digester := digest.SHA256.Digester()
	counter := &countingWriter{w: io.MultiWriter(f, digester.Hash())}
	tw := tar.NewWriter(counter)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		e := entries[name]
		if err := tw.WriteHeader(e.header); err != nil {
			return "", 0, fmt.Errorf("%w: %w", ErrAssembly, err)
		}
		if len(e.content) > 0 {
			if _, err := tw.Write(e.content); err != nil {
				return "", 0, fmt.Errorf("%w: %w", ErrAssembly, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrAssembly, err)
	}

	return digester.Digest(), counter.n, nil
}

// Counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

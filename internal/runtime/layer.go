package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/diff"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Commits the container's filesystem changes and writes them to output as an
// uncompressed tar archive.
//
// The diff between the container's snapshot and its parent is computed by the
// snapshotter and recorded as a plain tar layer blob in the content store.
// The blob is then streamed to the output path and its descriptor returned.
// The container's image record is never modified. A content lease protects
// the blob from garbage collection while it is being read; once the lease is
// released the blob becomes collectable again.
func (c *Container) ExportLayer(ctx context.Context, output string) (ocispec.Descriptor, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	// Acquire a content lease so the diff blob survives until it has been
	// copied out. Without a lease, containerd's GC scheduler may collect it
	// between the write and the read.
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer done(context.Background())

	desc, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
		diff.WithMediaType(ocispec.MediaTypeImageLayer),
	)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.copyBlob(ctx, desc, output); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("layer exported", "id", c.id, "path", output, "digest", desc.Digest)
	return desc, nil
}

// Streams a content-store blob to a file.
func (c *Container) copyBlob(ctx context.Context, desc ocispec.Descriptor, path string) error {
	ra, err := c.client.ContentStore().ReaderAt(ctx, desc)
	if err != nil {
		return err
	}
	defer ra.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, content.NewReader(ra)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

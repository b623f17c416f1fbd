// Package fsgateway isolates every interaction with the underlying
// copy-on-write filesystem behind a narrow interface, so the actor and core
// packages never shell out directly and can be tested against a fake.
package fsgateway

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Subvolume describes one entry from a subvolume listing.
type Subvolume struct {
	Path         string
	UUID         uuid.UUID
	ParentUUID   uuid.UUID
	ReceivedUUID uuid.UUID
	Readonly     bool
	CreatedAt    time.Time
}

// PoolProbe is what querying a pool by its mountpoint returns: enough to
// confirm the mountpoint is actually the expected filesystem.
type PoolProbe struct {
	MountpointPath string
	FilesystemUUID uuid.UUID
}

// ByteSource streams a btrfs send, optionally incremental against Parent.
type ByteSource interface {
	io.ReadCloser
}

// ByteSink accepts a btrfs receive stream into Dest and reports the name of
// the subvolume that receive created.
type ByteSink interface {
	io.WriteCloser
	// ReceivedName returns the name btrfs receive gave the new subvolume,
	// valid only after Close has been called without error.
	ReceivedName() (string, error)
}

// Gateway is every filesystem operation the daemon needs, expressed without
// reference to any concrete tool invocation.
type Gateway interface {
	// QueryPool probes a mountpoint and returns its filesystem identity.
	QueryPool(ctx context.Context, mountpoint string) (PoolProbe, error)

	// ListSubvolumes lists every subvolume under root, with paths relative
	// to the pool mountpoint (the filesystem's top level).
	ListSubvolumes(ctx context.Context, root string) ([]Subvolume, error)

	// SubvolumeByUUID finds a single subvolume under root by its UUID.
	SubvolumeByUUID(ctx context.Context, root string, id uuid.UUID) (Subvolume, error)

	// SubvolumeByPath finds a single subvolume under root by its relative
	// path.
	SubvolumeByPath(ctx context.Context, root, relPath string) (Subvolume, error)

	// CreateSubvolume creates a new, empty, writable subvolume at path.
	CreateSubvolume(ctx context.Context, path string) error

	// CreateSnapshot creates a read-only (if readonly is true) snapshot of
	// srcPath at destPath.
	CreateSnapshot(ctx context.Context, srcPath, destPath string, readonly bool) error

	// DeleteSubvolume destroys the subvolume at path.
	DeleteSubvolume(ctx context.Context, path string) error

	// RenameSubvolume renames the entry at oldPath to newPath within the
	// same directory, used to append the received-snapshot suffix once a
	// receive stream completes successfully.
	RenameSubvolume(ctx context.Context, oldPath, newPath string) error

	// SendSubvolume opens a btrfs send stream for path, incremental
	// against parentPath when non-empty.
	SendSubvolume(ctx context.Context, path, parentPath string) (ByteSource, error)

	// ReceiveSubvolume opens a btrfs receive stream writing into destDir.
	ReceiveSubvolume(ctx context.Context, destDir string) (ByteSink, error)
}

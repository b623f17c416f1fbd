package fsgateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	blkerrors "github.com/sagelywizard/blkcaptwrk/pkg/blkcaptwrk/errors"
)

// FakeGateway is an in-memory Gateway for tests. It models subvolumes as a
// flat map keyed by path and streams send/receive through byte buffers
// instead of shelling out to btrfs.
type FakeGateway struct {
	mu         sync.Mutex
	Pool       PoolProbe
	subvolumes map[string]Subvolume
	content    map[string][]byte
}

func NewFakeGateway(fsUUID uuid.UUID) *FakeGateway {
	return &FakeGateway{
		subvolumes: make(map[string]Subvolume),
		content:    make(map[string][]byte),
		Pool:       PoolProbe{FilesystemUUID: fsUUID},
	}
}

// Seed registers a subvolume directly, for test setup.
func (f *FakeGateway) Seed(sv Subvolume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subvolumes[sv.Path] = sv
}

func (f *FakeGateway) QueryPool(ctx context.Context, mountpoint string) (PoolProbe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pool.MountpointPath = mountpoint
	return f.Pool, nil
}

// ListSubvolumes reports paths relative to the last probed mountpoint, as a
// real listing relative to the filesystem's top level does.
func (f *FakeGateway) ListSubvolumes(ctx context.Context, root string) ([]Subvolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Subvolume
	for p, sv := range f.subvolumes {
		if root == "" || strings.HasPrefix(p, root) {
			if f.Pool.MountpointPath != "" {
				sv.Path = strings.TrimPrefix(p, strings.TrimSuffix(f.Pool.MountpointPath, "/")+"/")
			}
			out = append(out, sv)
		}
	}
	return out, nil
}

func (f *FakeGateway) SubvolumeByUUID(ctx context.Context, root string, id uuid.UUID) (Subvolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sv := range f.subvolumes {
		if sv.UUID == id {
			return sv, nil
		}
	}
	return Subvolume{}, blkerrors.New(blkerrors.SubvolumeNotFound, "fake.subvolume_by_uuid", fmt.Errorf("uuid %s not found", id))
}

func (f *FakeGateway) SubvolumeByPath(ctx context.Context, root, relPath string) (Subvolume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	full := filepath.Join(root, relPath)
	sv, ok := f.subvolumes[full]
	if !ok {
		return Subvolume{}, blkerrors.New(blkerrors.SubvolumeNotFound, "fake.subvolume_by_path", fmt.Errorf("path %s not found", full))
	}
	return sv, nil
}

func (f *FakeGateway) CreateSubvolume(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subvolumes[path] = Subvolume{Path: path, UUID: uuid.New()}
	return nil
}

func (f *FakeGateway) CreateSnapshot(ctx context.Context, srcPath, destPath string, readonly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.subvolumes[srcPath]
	if !ok {
		return blkerrors.New(blkerrors.SubvolumeNotFound, "fake.create_snapshot", fmt.Errorf("source %s not found", srcPath))
	}
	f.subvolumes[destPath] = Subvolume{Path: destPath, UUID: uuid.New(), ParentUUID: src.UUID, Readonly: readonly}
	f.content[destPath] = f.content[srcPath]
	return nil
}

func (f *FakeGateway) DeleteSubvolume(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subvolumes[path]; !ok {
		return blkerrors.New(blkerrors.SubvolumeNotFound, "fake.delete_subvolume", fmt.Errorf("path %s not found", path))
	}
	delete(f.subvolumes, path)
	delete(f.content, path)
	return nil
}

func (f *FakeGateway) RenameSubvolume(ctx context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sv, ok := f.subvolumes[oldPath]
	if !ok {
		return blkerrors.New(blkerrors.SubvolumeNotFound, "fake.rename_subvolume", fmt.Errorf("path %s not found", oldPath))
	}
	delete(f.subvolumes, oldPath)
	sv.Path = newPath
	f.subvolumes[newPath] = sv
	if c, ok := f.content[oldPath]; ok {
		delete(f.content, oldPath)
		f.content[newPath] = c
	}
	return nil
}

type fakeSource struct{ *bytes.Reader }

func (fakeSource) Close() error { return nil }

func (f *FakeGateway) SendSubvolume(ctx context.Context, path, parentPath string) (ByteSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sv, ok := f.subvolumes[path]
	if !ok {
		return nil, blkerrors.New(blkerrors.SubvolumeNotFound, "fake.send_subvolume", fmt.Errorf("path %s not found", path))
	}
	if parentPath != "" {
		if _, ok := f.subvolumes[parentPath]; !ok {
			return nil, blkerrors.New(blkerrors.SubvolumeNotFound, "fake.send_subvolume", fmt.Errorf("parent %s not found", parentPath))
		}
	}
	payload := append([]byte(fmt.Sprintf("send:%s:parent=%s:", sv.UUID, parentPath)), f.content[path]...)
	return fakeSource{bytes.NewReader(payload)}, nil
}

type fakeSink struct {
	f       *FakeGateway
	destDir string
	buf     bytes.Buffer
	name    string
	closed  bool
}

func (s *fakeSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *fakeSink) Close() error {
	s.closed = true
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	bareName := fmt.Sprintf("recv-%d", len(s.f.subvolumes))
	fullPath := fmt.Sprintf("%s/%s", s.destDir, bareName)
	s.f.subvolumes[fullPath] = Subvolume{Path: fullPath, UUID: uuid.New(), ReceivedUUID: parseFakeSendHeader(s.buf.Bytes()), Readonly: true}
	s.f.content[fullPath] = s.buf.Bytes()
	// ReceivedName reports the bare entry name relative to destDir, matching
	// how BtrfsGateway's receiveSink reports the name btrfs receive assigned.
	s.name = bareName
	return nil
}

// parseFakeSendHeader recovers the source UUID fakeSource embedded at the
// start of its payload, standing in for the way a real btrfs send stream
// carries its source subvolume's UUID to the receiving end.
func parseFakeSendHeader(payload []byte) uuid.UUID {
	s := string(payload)
	const prefix = "send:"
	if !strings.HasPrefix(s, prefix) {
		return uuid.Nil
	}
	rest := s[len(prefix):]
	idx := strings.Index(rest, ":parent=")
	if idx == -1 {
		return uuid.Nil
	}
	id, err := uuid.Parse(rest[:idx])
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (s *fakeSink) ReceivedName() (string, error) {
	if !s.closed {
		return "", fmt.Errorf("receive stream is not yet closed")
	}
	return s.name, nil
}

func (f *FakeGateway) ReceiveSubvolume(ctx context.Context, destDir string) (ByteSink, error) {
	return &fakeSink{f: f, destDir: destDir}, nil
}

var _ io.ReadCloser = fakeSource{}

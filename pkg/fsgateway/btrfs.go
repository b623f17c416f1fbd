package fsgateway

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	blkerrors "github.com/sagelywizard/blkcaptwrk/pkg/blkcaptwrk/errors"
)

// BtrfsGateway is a Gateway backed by the btrfs(8) command-line tool,
// invoked via os/exec. There is no maintained Go library for manipulating
// btrfs subvolumes, so shelling out to the same tool an operator would use
// is the standard approach in this space.
type BtrfsGateway struct {
	// BtrfsBin overrides the resolved path to the btrfs binary, for tests.
	BtrfsBin string
}

// NewBtrfsGateway returns a Gateway that drives the system btrfs binary.
func NewBtrfsGateway() *BtrfsGateway {
	return &BtrfsGateway{BtrfsBin: "btrfs"}
}

func (g *BtrfsGateway) bin() string {
	if g.BtrfsBin != "" {
		return g.BtrfsBin
	}
	return "btrfs"
}

func (g *BtrfsGateway) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", blkerrors.New(blkerrors.CommandFailed, op,
			fmt.Errorf("%s %s: %w: %s", g.bin(), strings.Join(args, " "), err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

func (g *BtrfsGateway) QueryPool(ctx context.Context, mountpoint string) (PoolProbe, error) {
	out, err := g.run(ctx, "fsgateway.query_pool", "filesystem", "show", mountpoint)
	if err != nil {
		return PoolProbe{}, err
	}
	fsUUID, err := parseFilesystemUUID(out)
	if err != nil {
		return PoolProbe{}, blkerrors.New(blkerrors.FsProbeFailed, "fsgateway.query_pool", err)
	}
	return PoolProbe{MountpointPath: mountpoint, FilesystemUUID: fsUUID}, nil
}

// parseFilesystemUUID pulls the filesystem uuid out of
// `btrfs filesystem show` output, whose first line reads
// `Label: 'tank'  uuid: <uuid>`.
func parseFilesystemUUID(out string) (uuid.UUID, error) {
	idx := strings.Index(out, "uuid:")
	if idx == -1 {
		return uuid.Nil, fmt.Errorf("no uuid field in btrfs filesystem show output")
	}
	rest := strings.TrimSpace(out[idx+len("uuid:"):])
	raw := strings.Fields(rest)
	if len(raw) == 0 {
		return uuid.Nil, fmt.Errorf("empty uuid field in btrfs filesystem show output")
	}
	return uuid.Parse(raw[0])
}

// ListSubvolumes parses `btrfs subvolume list -o -q -u -R <root>`, which
// lists only the subvolumes below root; its output lines are a run of
// "key value" pairs terminated by "path <relpath>", e.g.:
//
//	ID 257 gen 15 top level 5 parent_uuid - received_uuid - uuid 7e7e... path docs
//
// "top level" and the two uuid keys can have single-token or two-token
// keys, so the line is tokenized by key name rather than fixed position.
func (g *BtrfsGateway) ListSubvolumes(ctx context.Context, root string) ([]Subvolume, error) {
	out, err := g.run(ctx, "fsgateway.list_subvolumes", "subvolume", "list", "-o", "-q", "-u", "-R", root)
	if err != nil {
		return nil, err
	}

	var subvols []Subvolume
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		sv, err := parseSubvolumeListLine(line)
		if err != nil {
			continue
		}
		subvols = append(subvols, sv)
	}
	return subvols, nil
}

func parseSubvolumeListLine(line string) (Subvolume, error) {
	fields := strings.Fields(line)
	var sv Subvolume
	for i := 0; i < len(fields); {
		key := fields[i]
		if key == "top" && i+1 < len(fields) && fields[i+1] == "level" {
			key = "top_level"
			i++
		}
		if i+1 >= len(fields) {
			break
		}
		value := fields[i+1]
		i += 2

		switch key {
		case "parent_uuid":
			sv.ParentUUID, _ = uuid.Parse(value)
		case "received_uuid":
			sv.ReceivedUUID, _ = uuid.Parse(value)
		case "uuid":
			sv.UUID, _ = uuid.Parse(value)
		case "path":
			sv.Path = strings.TrimSpace(strings.SplitN(line, "path ", 2)[1])
			return sv, nil
		}
	}
	return Subvolume{}, fmt.Errorf("no path field in subvolume list line %q", line)
}

func (g *BtrfsGateway) SubvolumeByUUID(ctx context.Context, root string, id uuid.UUID) (Subvolume, error) {
	subvols, err := g.ListSubvolumes(ctx, root)
	if err != nil {
		return Subvolume{}, err
	}
	for _, sv := range subvols {
		if sv.UUID == id {
			return sv, nil
		}
	}
	return Subvolume{}, blkerrors.New(blkerrors.SubvolumeNotFound, "fsgateway.subvolume_by_uuid",
		fmt.Errorf("no subvolume with uuid %s under %s", id, root))
}

func (g *BtrfsGateway) SubvolumeByPath(ctx context.Context, root, relPath string) (Subvolume, error) {
	full := filepath.Join(root, relPath)
	if _, err := os.Stat(full); err != nil {
		return Subvolume{}, blkerrors.New(blkerrors.SubvolumeNotFound, "fsgateway.subvolume_by_path", err)
	}
	return Subvolume{Path: relPath}, nil
}

func (g *BtrfsGateway) CreateSubvolume(ctx context.Context, path string) error {
	_, err := g.run(ctx, "fsgateway.create_subvolume", "subvolume", "create", path)
	return err
}

func (g *BtrfsGateway) CreateSnapshot(ctx context.Context, srcPath, destPath string, readonly bool) error {
	args := []string{"subvolume", "snapshot"}
	if readonly {
		args = append(args, "-r")
	}
	args = append(args, srcPath, destPath)
	_, err := g.run(ctx, "fsgateway.create_snapshot", args...)
	return err
}

func (g *BtrfsGateway) DeleteSubvolume(ctx context.Context, path string) error {
	_, err := g.run(ctx, "fsgateway.delete_subvolume", "subvolume", "delete", path)
	return err
}

// RenameSubvolume is a plain directory-entry rename, not a btrfs-specific
// operation, so it goes through os.Rename rather than the CLI.
func (g *BtrfsGateway) RenameSubvolume(ctx context.Context, oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return blkerrors.New(blkerrors.CommandFailed, "fsgateway.rename_subvolume", err)
	}
	return nil
}

// sendSource streams stdout of a running `btrfs send` and reports any
// stderr output as the error once the process exits.
type sendSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

func (s *sendSource) Read(p []byte) (int, error) { return s.stdout.Read(p) }

func (s *sendSource) Close() error {
	closeErr := s.stdout.Close()
	waitErr := s.cmd.Wait()
	if waitErr != nil {
		return blkerrors.New(blkerrors.TransferFailed, "fsgateway.send_subvolume",
			fmt.Errorf("btrfs send: %w: %s", waitErr, strings.TrimSpace(s.stderr.String())))
	}
	return closeErr
}

func (g *BtrfsGateway) SendSubvolume(ctx context.Context, path, parentPath string) (ByteSource, error) {
	args := []string{"send"}
	if parentPath != "" {
		args = append(args, "-p", parentPath)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, g.bin(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, blkerrors.New(blkerrors.TransferFailed, "fsgateway.send_subvolume", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, blkerrors.New(blkerrors.TransferFailed, "fsgateway.send_subvolume", err)
	}
	return &sendSource{cmd: cmd, stdout: stdout, stderr: &stderr}, nil
}

// receiveSink streams to stdin of a running `btrfs receive` and, on Close,
// diffs the destination directory's listing from before the receive
// started to discover the name btrfs receive assigned the new subvolume.
type receiveSink struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	destDir string
	before  map[string]bool
	name    string
	closed  bool
}

func (r *receiveSink) Write(p []byte) (int, error) { return r.stdin.Write(p) }

func (r *receiveSink) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.stdin.Close(); err != nil {
		_ = r.cmd.Wait()
		return blkerrors.New(blkerrors.TransferFailed, "fsgateway.receive_subvolume", err)
	}
	if err := r.cmd.Wait(); err != nil {
		return blkerrors.New(blkerrors.TransferFailed, "fsgateway.receive_subvolume",
			fmt.Errorf("btrfs receive: %w: %s", err, strings.TrimSpace(r.stderr.String())))
	}

	entries, err := os.ReadDir(r.destDir)
	if err != nil {
		return blkerrors.New(blkerrors.TransferFailed, "fsgateway.receive_subvolume", err)
	}
	for _, entry := range entries {
		if !r.before[entry.Name()] {
			r.name = entry.Name()
			return nil
		}
	}
	return blkerrors.New(blkerrors.InternalInvariant, "fsgateway.receive_subvolume",
		fmt.Errorf("receive completed but no new entry appeared under %s", r.destDir))
}

func (r *receiveSink) ReceivedName() (string, error) {
	if !r.closed {
		return "", fmt.Errorf("receive stream is not yet closed")
	}
	if r.name == "" {
		return "", fmt.Errorf("receive did not produce a new subvolume")
	}
	return r.name, nil
}

func (g *BtrfsGateway) ReceiveSubvolume(ctx context.Context, destDir string) (ByteSink, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil, blkerrors.New(blkerrors.FsProbeFailed, "fsgateway.receive_subvolume", err)
	}
	before := make(map[string]bool, len(entries))
	for _, entry := range entries {
		before[entry.Name()] = true
	}

	cmd := exec.CommandContext(ctx, g.bin(), "receive", destDir)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, blkerrors.New(blkerrors.TransferFailed, "fsgateway.receive_subvolume", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, blkerrors.New(blkerrors.TransferFailed, "fsgateway.receive_subvolume", err)
	}
	return &receiveSink{cmd: cmd, stdin: stdin, stderr: &stderr, destDir: destDir, before: before}, nil
}

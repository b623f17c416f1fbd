package fsgateway

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseSubvolumeListLine(t *testing.T) {
	id := uuid.New()
	parent := uuid.New()
	line := "ID 257 gen 15 top level 5 parent_uuid " + parent.String() + " received_uuid - uuid " + id.String() + " path containers/docs/2024-01-01"

	sv, err := parseSubvolumeListLine(line)
	if err != nil {
		t.Fatalf("parseSubvolumeListLine: %v", err)
	}
	if sv.UUID != id {
		t.Errorf("UUID = %s, want %s", sv.UUID, id)
	}
	if sv.ParentUUID != parent {
		t.Errorf("ParentUUID = %s, want %s", sv.ParentUUID, parent)
	}
	if sv.ReceivedUUID != uuid.Nil {
		t.Errorf("ReceivedUUID = %s, want nil", sv.ReceivedUUID)
	}
	if sv.Path != "containers/docs/2024-01-01" {
		t.Errorf("Path = %q, want %q", sv.Path, "containers/docs/2024-01-01")
	}
}

func TestParseSubvolumeListLineNoPath(t *testing.T) {
	if _, err := parseSubvolumeListLine("ID 257 gen 15 top level 5"); err == nil {
		t.Fatal("expected error for line with no path field")
	}
}

func TestParseFilesystemUUID(t *testing.T) {
	id := uuid.New()
	out := "Label: 'tank'  uuid: " + id.String() + "\n\tTotal devices 1 FS bytes used 1.00GiB\n"
	got, err := parseFilesystemUUID(out)
	if err != nil {
		t.Fatalf("parseFilesystemUUID: %v", err)
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
}

func TestParseFilesystemUUIDMissing(t *testing.T) {
	if _, err := parseFilesystemUUID("nothing here"); err == nil {
		t.Fatal("expected error when uuid field is absent")
	}
}

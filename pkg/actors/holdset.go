package actors

import "github.com/google/uuid"

// Hold is a runtime-only pin against deletion, held by a dataset or
// container actor for as long as a sender, receiver, or holder child is
// working with a snapshot and (when the transfer is incremental) its
// parent.
type Hold struct {
	HolderID   string
	SnapshotID uuid.UUID
	ParentID   uuid.UUID
}

// HoldSet is the explicit, testable home for the safety invariant central
// to this system: no snapshot whose UUID appears in a hold may be deleted.
// It is mutated only by the actor that owns it — never shared across
// actors or protected by a lock.
type HoldSet struct {
	holds []Hold
}

// Insert records a new hold.
func (h *HoldSet) Insert(hold Hold) {
	h.holds = append(h.holds, hold)
}

// RemoveByHolderID drops every hold owned by the given holder, called once
// that holder reports finished.
func (h *HoldSet) RemoveByHolderID(id string) {
	kept := h.holds[:0]
	for _, hold := range h.holds {
		if hold.HolderID != id {
			kept = append(kept, hold)
		}
	}
	h.holds = kept
}

// Contains reports whether id is pinned by any live hold, either as the
// held snapshot itself or as another hold's incremental parent.
func (h *HoldSet) Contains(id uuid.UUID) bool {
	for _, hold := range h.holds {
		if hold.SnapshotID == id || (hold.ParentID != uuid.Nil && hold.ParentID == id) {
			return true
		}
	}
	return false
}

// UUIDs returns every pinned UUID as a set, the shape the retention engine
// consumes directly.
func (h *HoldSet) UUIDs() map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(h.holds)*2)
	for _, hold := range h.holds {
		out[hold.SnapshotID] = struct{}{}
		if hold.ParentID != uuid.Nil {
			out[hold.ParentID] = struct{}{}
		}
	}
	return out
}

// Len reports how many holds are currently live.
func (h *HoldSet) Len() int {
	return len(h.holds)
}

// HolderIDs returns the holder identifiers of every live hold.
func (h *HoldSet) HolderIDs() []string {
	out := make([]string, len(h.holds))
	for i, hold := range h.holds {
		out[i] = hold.HolderID
	}
	return out
}

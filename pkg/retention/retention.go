// Package retention implements the pure snapshot retention computation: it
// never touches the filesystem or a clock, so the actor layer can reuse the
// same decision function under simulated conditions.
package retention

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sagelywizard/blkcaptwrk/pkg/model"
)

// Snapshot is the minimal shape Prune needs: an identity and a point in
// time. Callers adapt their richer snapshot types to this.
type Snapshot struct {
	UUID      uuid.UUID
	Timestamp time.Time
}

// Result is the outcome of a prune computation.
type Result struct {
	Keep   []Snapshot
	Delete []Snapshot
}

// Prune partitions snapshots into keep/delete sets under rule, as of now.
// held identifies snapshots that must never be deleted regardless of bucket
// assignment. Snapshots are independent of sort order on input; the result
// is sorted by Timestamp ascending.
//
// Each rule interval (duration, count) claims a window of count*duration
// worth of snapshot age, carved into count equal slots; the newest snapshot
// in each slot survives. The first interval's window starts at the present
// moment (so the just-taken snapshot is always eligible); every later
// interval's window picks up immediately where the previous one left off.
// A snapshot whose age falls in the gap between two slot boundaries, or
// past every configured window, is deleted unless held or covered by
// KeepNewest.
func Prune(snapshots []Snapshot, held map[uuid.UUID]struct{}, rule model.RetentionRule, now time.Time) Result {
	sorted := make([]Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	keep := make(map[uuid.UUID]bool)

	if rule.KeepNewest > 0 {
		newestFirst := make([]Snapshot, len(sorted))
		copy(newestFirst, sorted)
		sort.Slice(newestFirst, func(i, j int) bool { return newestFirst[i].Timestamp.After(newestFirst[j].Timestamp) })
		for i := 0; i < rule.KeepNewest && i < len(newestFirst); i++ {
			keep[newestFirst[i].UUID] = true
		}
	}

	var covered time.Duration
	for bucketIdx, bucket := range rule.Intervals {
		if bucket.Interval <= 0 || bucket.Count <= 0 {
			continue
		}
		window := bucket.Interval * time.Duration(bucket.Count)
		windowStart := covered
		windowEnd := covered + window

		slots := make(map[int]Snapshot)
		for _, snap := range sorted {
			age := now.Sub(snap.Timestamp)
			var slot int
			if bucketIdx == 0 {
				if age < windowStart || age >= windowEnd {
					continue
				}
				slot = int((age - windowStart) / bucket.Interval)
			} else {
				if age <= windowStart || age > windowEnd {
					continue
				}
				slot = ceilDiv(age-windowStart, bucket.Interval) - 1
			}
			if slot < 0 || slot >= bucket.Count {
				continue
			}
			current, ok := slots[slot]
			if !ok || snap.Timestamp.After(current.Timestamp) {
				slots[slot] = snap
			}
		}
		for _, winner := range slots {
			keep[winner.UUID] = true
		}
		covered = windowEnd
	}

	for id := range held {
		keep[id] = true
	}

	var result Result
	for _, snap := range sorted {
		if keep[snap.UUID] {
			result.Keep = append(result.Keep, snap)
		} else {
			result.Delete = append(result.Delete, snap)
		}
	}
	return result
}

func ceilDiv(a, b time.Duration) int {
	return int((a + b - 1) / b)
}

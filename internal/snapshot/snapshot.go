// Package snapshot holds unread-count snapshots and compares them.
package snapshot

import (
	"sort"
	"strings"
)

// TotalKey is the single key used when only an aggregate count is known.
const TotalKey = "Total"

// Snapshot maps a resource (chat room) name to its unread count.
type Snapshot map[string]int

// Scalar returns the degenerate single-key form of a total count.
func Scalar(n int) Snapshot {
	return Normalize(Snapshot{TotalKey: n})
}

// Normalize trims keys, drops empty ones and clamps negative counts to zero.
// Counts for keys that collapse to the same name are summed.
func Normalize(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] += max(0, v)
	}
	return out
}

func (s Snapshot) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns resource names in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delta is a strictly positive increase for one resource.
type Delta struct {
	Name     string
	Increase int
}

// Report is the result of comparing two snapshots.
type Report struct {
	Deltas        []Delta // sorted by Name
	TotalIncrease int
	TotalCurrent  int
}

func (r Report) Empty() bool { return r.TotalIncrease == 0 }

// Compare reports, for every resource in next, how much its count rose over
// prior. Absent prior keys count as zero. Resources present only in prior
// are ignored and decreases never appear.
func Compare(prior, next Snapshot) Report {
	var r Report
	for _, k := range next.Keys() {
		cur := next[k]
		r.TotalCurrent += cur
		if inc := cur - prior[k]; inc > 0 {
			r.Deltas = append(r.Deltas, Delta{Name: k, Increase: inc})
			r.TotalIncrease += inc
		}
	}
	return r
}

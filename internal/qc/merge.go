package qc

import (
	"fmt"
	"math"
)

// timestampBucketSeconds collapses near-identical findings whose timestamps
// drifted slightly between analysis runs.
const timestampBucketSeconds = 0.5

type dedupKey struct {
	typ         string
	category    string
	title       string
	description string
	timed       bool
	bucket      int64
}

func keyFor(f Flag) dedupKey {
	k := dedupKey{
		typ:         Normalize(string(f.Type)),
		category:    Normalize(f.Category),
		title:       Normalize(f.Title),
		description: Normalize(f.Description),
	}
	if f.Timestamp != nil {
		k.timed = true
		k.bucket = int64(math.Floor(*f.Timestamp / timestampBucketSeconds))
	}
	return k
}

// Merge combines two flag lists, keeping the first occurrence of each dedup
// key and preserving first-seen order. Re-merging the same list is a no-op,
// which makes at-least-once callback delivery safe.
func Merge(existing, incoming []Flag) []Flag {
	merged := make([]Flag, 0, len(existing)+len(incoming))
	seen := make(map[dedupKey]struct{}, len(existing)+len(incoming))
	for _, list := range [][]Flag{existing, incoming} {
		for _, f := range list {
			k := keyFor(f)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, f)
		}
	}
	return merged
}

// MergeResult merges incoming flags into an existing result and recomputes
// the pass verdict from the merged set.
func MergeResult(existing *QCResult, incoming []Flag) *QCResult {
	if existing == nil {
		existing = &QCResult{}
	}
	out := *existing
	out.Flags = Merge(existing.Flags, incoming)
	out.Passed = Passed(out.Flags)
	return &out
}

// NewFlagID builds a source-local flag id. Uniqueness only matters within a
// single analysis run.
func NewFlagID(source FlagSource, n int) string {
	return fmt.Sprintf("%s-%d", source, n)
}

// Package balance splits costed work items across a fixed number of worker slots.
package balance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidSlotCount = errors.New("invalid configuration: slot count must be >= 1")

type Item struct {
	ID   string
	Cost int
}

type Bucket struct {
	Items []string
	Total int
}

// Distribute assigns items to slots longest-processing-time first: items are
// taken in descending cost order (equal costs keep input order) and each one
// goes to the bucket with the smallest running total, lowest index on ties.
// The resulting makespan is at most (2 - 1/slots) times the optimum.
func Distribute(items []Item, slots int) ([]Bucket, error) {
	if slots < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSlotCount, slots)
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Cost > sorted[j].Cost
	})

	buckets := make([]Bucket, slots)
	for i := range buckets {
		buckets[i].Items = []string{}
	}
	for _, it := range sorted {
		target := 0
		for i := 1; i < slots; i++ {
			if buckets[i].Total < buckets[target].Total {
				target = i
			}
		}
		buckets[target].Items = append(buckets[target].Items, it.ID)
		buckets[target].Total += it.Cost
	}
	return buckets, nil
}

func Makespan(buckets []Bucket) int {
	max := 0
	for _, b := range buckets {
		if b.Total > max {
			max = b.Total
		}
	}
	return max
}

type BucketSummary struct {
	Slot  int `json:"slot"`
	Items int `json:"items"`
	Total int `json:"total"`
}

func Summary(buckets []Bucket) []BucketSummary {
	out := make([]BucketSummary, 0, len(buckets))
	for i, b := range buckets {
		out = append(out, BucketSummary{Slot: i, Items: len(b.Items), Total: b.Total})
	}
	return out
}

func FormatSummary(buckets []Bucket, unit string) string {
	var b strings.Builder
	for _, s := range Summary(buckets) {
		fmt.Fprintf(&b, "slot %d: %d %s, %d items\n", s.Slot, s.Total, unit, s.Items)
	}
	return b.String()
}

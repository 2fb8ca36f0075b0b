package balance

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"strconv"
	"testing"
)

func TestDistributeGreedyTrace(t *testing.T) {
	items := []Item{{"A", 10}, {"B", 7}, {"C", 5}, {"D", 5}}
	buckets, err := Distribute(items, 2)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if !reflect.DeepEqual(buckets[0].Items, []string{"A", "D"}) || buckets[0].Total != 15 {
		t.Fatalf("unexpected bucket 0: %+v", buckets[0])
	}
	if !reflect.DeepEqual(buckets[1].Items, []string{"B", "C"}) || buckets[1].Total != 12 {
		t.Fatalf("unexpected bucket 1: %+v", buckets[1])
	}
}

func TestDistributeRejectsZeroSlots(t *testing.T) {
	_, err := Distribute([]Item{{"A", 1}}, 0)
	if !errors.Is(err, ErrInvalidSlotCount) {
		t.Fatalf("expected ErrInvalidSlotCount, got %v", err)
	}
}

func TestDistributeEmptyInput(t *testing.T) {
	buckets, err := Distribute(nil, 3)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	for i, b := range buckets {
		if len(b.Items) != 0 || b.Total != 0 {
			t.Fatalf("expected bucket %d empty, got %+v", i, b)
		}
	}
}

func TestDistributeSingleSlotKeepsDescendingOrder(t *testing.T) {
	items := []Item{{"a", 3}, {"b", 9}, {"c", 3}, {"d", 5}}
	buckets, err := Distribute(items, 1)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	want := []string{"b", "d", "a", "c"}
	if !reflect.DeepEqual(buckets[0].Items, want) {
		t.Fatalf("expected %v, got %v", want, buckets[0].Items)
	}
	if buckets[0].Total != 20 {
		t.Fatalf("expected total 20, got %d", buckets[0].Total)
	}
}

func TestDistributeEqualCostsBalanceCounts(t *testing.T) {
	for slots := 1; slots <= 6; slots++ {
		for n := 0; n <= 25; n++ {
			items := make([]Item, n)
			for i := range items {
				items[i] = Item{ID: strconv.Itoa(i), Cost: 4}
			}
			buckets, err := Distribute(items, slots)
			if err != nil {
				t.Fatalf("distribute: %v", err)
			}
			minN, maxN := n, 0
			for _, b := range buckets {
				minN = min(minN, len(b.Items))
				maxN = max(maxN, len(b.Items))
			}
			if maxN-minN > 1 {
				t.Fatalf("slots=%d n=%d: bucket sizes differ by %d", slots, n, maxN-minN)
			}
		}
	}
}

func TestDistributePartitionsInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 200; round++ {
		n := rng.IntN(40)
		slots := 1 + rng.IntN(8)
		items := make([]Item, n)
		total := 0
		for i := range items {
			items[i] = Item{ID: "v" + strconv.Itoa(i), Cost: rng.IntN(500)}
			total += items[i].Cost
		}

		buckets, err := Distribute(items, slots)
		if err != nil {
			t.Fatalf("distribute: %v", err)
		}
		if len(buckets) != slots {
			t.Fatalf("expected %d buckets, got %d", slots, len(buckets))
		}

		seen := make(map[string]int, n)
		sum := 0
		for _, b := range buckets {
			for _, id := range b.Items {
				seen[id]++
			}
			sum += b.Total
		}
		if sum != total {
			t.Fatalf("bucket totals %d != item total %d", sum, total)
		}
		if len(seen) != n {
			t.Fatalf("expected %d distinct items, got %d", n, len(seen))
		}
		for id, c := range seen {
			if c != 1 {
				t.Fatalf("item %s assigned %d times", id, c)
			}
		}
	}
}

func TestDistributeWithinApproximationBound(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for round := 0; round < 150; round++ {
		n := 1 + rng.IntN(8)
		slots := 1 + rng.IntN(3)
		items := make([]Item, n)
		for i := range items {
			items[i] = Item{ID: strconv.Itoa(i), Cost: 1 + rng.IntN(60)}
		}

		buckets, err := Distribute(items, slots)
		if err != nil {
			t.Fatalf("distribute: %v", err)
		}
		got := Makespan(buckets)
		opt := optimalMakespan(items, slots)

		// got <= (2 - 1/slots) * opt, kept in integers.
		if got*slots > (2*slots-1)*opt {
			t.Fatalf("makespan %d exceeds bound for opt=%d slots=%d items=%v", got, opt, slots, items)
		}
	}
}

func TestSummaryReportsCountsAndTotals(t *testing.T) {
	buckets := []Bucket{{Items: []string{"a", "b"}, Total: 9}, {Items: []string{}, Total: 0}}
	got := Summary(buckets)
	want := []BucketSummary{{Slot: 0, Items: 2, Total: 9}, {Slot: 1, Items: 0, Total: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if s := FormatSummary(buckets, "frames"); s != "slot 0: 9 frames, 2 items\nslot 1: 0 frames, 0 items\n" {
		t.Fatalf("unexpected summary text %q", s)
	}
}

func optimalMakespan(items []Item, slots int) int {
	loads := make([]int, slots)
	best := -1
	var walk func(i int)
	walk = func(i int) {
		if i == len(items) {
			m := 0
			for _, l := range loads {
				m = max(m, l)
			}
			if best < 0 || m < best {
				best = m
			}
			return
		}
		for s := 0; s < slots; s++ {
			loads[s] += items[i].Cost
			walk(i + 1)
			loads[s] -= items[i].Cost
		}
	}
	walk(0)
	return best
}

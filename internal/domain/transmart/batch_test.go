package transmart

import (
	"fmt"
	"strings"
	"testing"
)

func TestPlanBatches(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 25, 30} {
		keys := make([]string, n)
		for i := range keys {
			keys[i] = fmt.Sprintf(`\k%d\`, i)
		}
		batches := PlanBatches(keys, 10)

		want := (n + 9) / 10
		if len(batches) != want {
			t.Errorf("n=%d: expected %d batches, got %d", n, want, len(batches))
			continue
		}
		seen := map[string]int{}
		var order []string
		for _, b := range batches {
			parts := strings.Split(b, "|")
			if len(parts) > 10 {
				t.Errorf("n=%d: batch has %d keys", n, len(parts))
			}
			for _, p := range parts {
				seen[p]++
				order = append(order, p)
			}
		}
		for i, k := range keys {
			if seen[k] != 1 {
				t.Errorf("n=%d: key %s seen %d times", n, k, seen[k])
			}
			if order[i] != k {
				t.Errorf("n=%d: key order changed at %d", n, i)
			}
		}
	}
}

func TestPlanBatches_DefaultSize(t *testing.T) {
	keys := make([]string, 21)
	for i := range keys {
		keys[i] = "f"
	}
	if got := len(PlanBatches(keys, 0)); got != 3 {
		t.Errorf("expected default batch size of %d, got %d batches", DefaultBatchSize, got)
	}
}

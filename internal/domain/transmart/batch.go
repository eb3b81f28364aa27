package transmart

import "strings"

// DefaultBatchSize is the number of concept paths sent per extraction call.
const DefaultBatchSize = 10

// PlanBatches splits keys into pipe-joined groups of at most max keys, in
// input order. Every key lands in exactly one batch; no keys means no batches.
func PlanBatches(keys []string, max int) []string {
	if max <= 0 {
		max = DefaultBatchSize
	}
	batches := make([]string, 0, (len(keys)+max-1)/max)
	for start := 0; start < len(keys); start += max {
		end := start + max
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, strings.Join(keys[start:end], "|"))
	}
	return batches
}

package replay

import "fmt"

// Batch is a half-open index range [From, To) into the journal slice.
type Batch struct {
	From int
	To   int
}

// SplitBatches slices total items into batches of size batchSize.
func SplitBatches(total, batchSize int) ([]Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if total < 0 {
		return nil, fmt.Errorf("total must be non-negative")
	}

	batches := make([]Batch, 0)
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batches = append(batches, Batch{From: start, To: end})
	}
	return batches, nil
}

package replay

import (
	"reflect"
	"testing"
)

func TestSplitBatches(t *testing.T) {
	got, err := SplitBatches(7, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Batch{
		{From: 0, To: 3},
		{From: 3, To: 6},
		{From: 6, To: 7},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}
}

func TestSplitBatchesEmpty(t *testing.T) {
	got, err := SplitBatches(0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no batches, got %+v", got)
	}
}

func TestSplitBatchesInvalid(t *testing.T) {
	if _, err := SplitBatches(10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
	if _, err := SplitBatches(-1, 1); err == nil {
		t.Fatalf("expected error for negative total")
	}
}

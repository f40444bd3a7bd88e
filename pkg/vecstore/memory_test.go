package vecstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryInsertAndSearch(t *testing.T) {
	vec := NewMemory()
	ctx := context.Background()

	mustInsert := func(id string, v []float32) {
		t.Helper()
		if err := vec.Insert(ctx, id, v, Payload{ItemID: id}); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert("a", []float32{1, 0, 0, 0})
	mustInsert("b", []float32{0, 1, 0, 0})
	mustInsert("c", []float32{0.9, 0.1, 0, 0})

	matches, err := vec.Search(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ItemID != "a" {
		t.Errorf("top match = %q, want 'a'", matches[0].ItemID)
	}
	if matches[1].ItemID != "c" {
		t.Errorf("second match = %q, want 'c'", matches[1].ItemID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not ordered by descending score")
	}
	if matches[0].Score < 0.999 {
		t.Errorf("identical vector score = %v, want near 1", matches[0].Score)
	}
}

func TestMemoryInsertIfAbsent(t *testing.T) {
	vec := NewMemory()
	ctx := context.Background()

	if err := vec.Insert(ctx, "a", []float32{1, 0}, Payload{ItemID: "a", ItemName: "first"}); err != nil {
		t.Fatal(err)
	}
	err := vec.Insert(ctx, "a", []float32{0, 1}, Payload{ItemID: "a", ItemName: "second"})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second insert = %v, want ErrExists", err)
	}

	// The original point must be untouched.
	matches, err := vec.Search(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Payload.ItemName != "first" {
		t.Fatalf("stored point mutated by rejected insert: %+v", matches)
	}
}

func TestMemorySearchEmpty(t *testing.T) {
	vec := NewMemory()
	matches, err := vec.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("empty index returned %d matches", len(matches))
	}
}

func TestMemoryExists(t *testing.T) {
	vec := NewMemory()
	ctx := context.Background()

	ok, err := vec.Exists(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected false before insert")
	}

	if err := vec.Insert(ctx, "x", []float32{1}, Payload{ItemID: "x"}); err != nil {
		t.Fatal(err)
	}
	ok, err = vec.Exists(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected true after insert")
	}
}

func TestMemoryDeleteByID(t *testing.T) {
	vec := NewMemory()
	ctx := context.Background()

	if err := vec.Insert(ctx, "x", []float32{1}, Payload{ItemID: "x", ImagePath: "items/x.jpg"}); err != nil {
		t.Fatal(err)
	}

	payloads, err := vec.DeleteByID(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 1 || payloads[0].ImagePath != "items/x.jpg" {
		t.Fatalf("DeleteByID payloads = %+v", payloads)
	}

	// Second delete: nothing left.
	payloads, err = vec.DeleteByID(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 0 {
		t.Fatalf("second DeleteByID removed %d points", len(payloads))
	}
}

func TestMemoryDeleteAll(t *testing.T) {
	vec := NewMemory()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := vec.Insert(ctx, id, []float32{1}, Payload{ItemID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := vec.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if vec.Len() != 0 {
		t.Fatalf("Len = %d after DeleteAll, want 0", vec.Len())
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

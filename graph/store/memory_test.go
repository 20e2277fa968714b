package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/autoqa/agentcore/graph/store"
)

type simpleState struct {
	Value int
}

func TestMemStoreSaveAndLoadLatest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[simpleState]()

	if err := st.SaveStep(ctx, "run-1", 1, "nodeA", simpleState{Value: 1}); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}
	if err := st.SaveStep(ctx, "run-1", 2, "nodeB", simpleState{Value: 2}); err != nil {
		t.Fatalf("SaveStep: %v", err)
	}

	state, step, err := st.LoadLatest(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if step != 2 || state.Value != 2 {
		t.Errorf("got step=%d value=%d, want step=2 value=2", step, state.Value)
	}
}

func TestMemStoreLoadLatestNotFound(t *testing.T) {
	st := store.NewMemStore[simpleState]()
	_, _, err := st.LoadLatest(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[simpleState]()

	if err := st.SaveCheckpoint(ctx, "cp-1", simpleState{Value: 7}, 3); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	state, step, err := st.LoadCheckpoint(ctx, "cp-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if step != 3 || state.Value != 7 {
		t.Errorf("got step=%d value=%d, want step=3 value=7", step, state.Value)
	}
}

func TestMemStoreHistoryOrder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[simpleState]()

	for i := 1; i <= 3; i++ {
		if err := st.SaveStep(ctx, "run-2", i, "node", simpleState{Value: i}); err != nil {
			t.Fatalf("SaveStep: %v", err)
		}
	}

	records, err := st.History(ctx, "run-2")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, rec := range records {
		if rec.Step != i+1 {
			t.Errorf("record %d: step=%d, want %d", i, rec.Step, i+1)
		}
	}
}

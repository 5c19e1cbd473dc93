package runstore

import (
	"context"
	"testing"

	"rlmcore/internal/rlm/domain"
)

func TestMemoryStoreInsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	id, err := store.InsertRun(context.Background(), domain.Run{SessionID: "s1", Query: "q"})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	run, err := store.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != domain.RunOK {
		t.Fatalf("status = %v, want ok", run.Status)
	}
}

func TestMemoryStoreUpdateRunPayloadIsFullOverwrite(t *testing.T) {
	store := NewMemoryStore()
	id, _ := store.InsertRun(context.Background(), domain.Run{SessionID: "s1", Query: "q"})

	run, _ := store.GetRun(context.Background(), id)
	run.ID = id
	run.FinalAnswer = "first answer"
	run.Status = domain.RunOK
	if err := store.UpdateRunPayload(context.Background(), run); err != nil {
		t.Fatalf("UpdateRunPayload: %v", err)
	}

	run2, _ := store.GetRun(context.Background(), id)
	run2.ID = id
	run2.FinalAnswer = "second answer"
	if err := store.UpdateRunPayload(context.Background(), run2); err != nil {
		t.Fatalf("UpdateRunPayload: %v", err)
	}

	final, _ := store.GetRun(context.Background(), id)
	if final.FinalAnswer != "second answer" {
		t.Fatalf("FinalAnswer = %q, want overwritten value", final.FinalAnswer)
	}
}

func TestMemoryStoreUpdateRunRejectsUnknownField(t *testing.T) {
	store := NewMemoryStore()
	id, _ := store.InsertRun(context.Background(), domain.Run{SessionID: "s1", Query: "q"})
	if err := store.UpdateRun(context.Background(), id, map[string]any{"bogus": 1}); err == nil {
		t.Fatal("expected error for non-patchable field")
	}
}

func TestMemoryStoreGetRunNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.GetRun(context.Background(), "missing"); err == nil {
		t.Fatal("expected ErrRunNotFound")
	}
}

package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	records := []DecisionRecord{
		{
			ID:        "d1",
			SessionID: "s1",
			Tool:      "bash",
			Input:     json.RawMessage(`{"command":"ls"}`),
			Allowed:   true,
			CreatedAt: base,
		},
		{
			ID:        "d2",
			SessionID: "s1",
			Tool:      "bash",
			Input:     json.RawMessage(`{"command":"rm -rf /"}`),
			Allowed:   false,
			Reason:    "destructive command blocked",
			Interrupt: true,
			Cached:    true,
			CreatedAt: base.Add(time.Second),
		},
		{
			ID:        "d3",
			SessionID: "other",
			Tool:      "read",
			Allowed:   true,
			CreatedAt: base.Add(2 * time.Second),
		},
	}
	for _, rec := range records {
		if err := store.RecordDecision(ctx, rec); err != nil {
			t.Fatalf("RecordDecision(%s) error = %v", rec.ID, err)
		}
	}

	got, err := store.Decisions(ctx, "s1")
	if err != nil {
		t.Fatalf("Decisions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Decisions(s1) len = %d, want 2", len(got))
	}
	if got[0].ID != "d1" || got[1].ID != "d2" {
		t.Errorf("Decisions(s1) order = [%s %s], want chronological [d1 d2]", got[0].ID, got[1].ID)
	}

	denied := got[1]
	if denied.Allowed || !denied.Interrupt || !denied.Cached {
		t.Errorf("denied record = %+v, want interrupt+cached deny", denied)
	}
	if denied.Reason != "destructive command blocked" {
		t.Errorf("Reason = %q", denied.Reason)
	}
	if string(denied.Input) != `{"command":"rm -rf /"}` {
		t.Errorf("Input = %s", denied.Input)
	}
}

func TestSQLiteStore_AssignsIDs(t *testing.T) {
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordDecision(ctx, DecisionRecord{SessionID: "s1", Tool: "read", Allowed: true}); err != nil {
		t.Fatalf("RecordDecision() error = %v", err)
	}
	got, err := store.Decisions(ctx, "s1")
	if err != nil {
		t.Fatalf("Decisions() error = %v", err)
	}
	if len(got) != 1 || got[0].ID == "" {
		t.Errorf("record should have a generated id: %+v", got)
	}
}

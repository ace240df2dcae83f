package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/flow"
)

func TestRegisterLookupRemove(t *testing.T) {
	tr := NewTracker(calllog.NewInMemoryStore(), time.Hour)

	f := flow.CallFlow{ToPhone: "+15550100", Topic: "billing"}
	if err := tr.Register("CA1", f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := tr.Lookup("CA1")
	if !ok {
		t.Fatalf("Lookup() should find CA1")
	}
	if got.Topic != "billing" {
		t.Fatalf("Topic = %q, want %q", got.Topic, "billing")
	}

	tr.Remove("CA1")
	if _, ok := tr.Lookup("CA1"); ok {
		t.Fatalf("Lookup() should miss after Remove()")
	}
}

func TestRegisterDuplicateFailsWithoutMutation(t *testing.T) {
	tr := NewTracker(calllog.NewInMemoryStore(), time.Hour)

	if err := tr.Register("CA1", flow.CallFlow{ToPhone: "+1", Topic: "first"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := tr.Register("CA1", flow.CallFlow{ToPhone: "+2", Topic: "second"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate Register() error = %v, want ErrDuplicate", err)
	}

	got, _ := tr.Lookup("CA1")
	if got.Topic != "first" {
		t.Fatalf("existing entry mutated by failed Register(): %+v", got)
	}
}

func TestRecordStatusAndTranscriptDelegate(t *testing.T) {
	ctx := context.Background()
	store := calllog.NewInMemoryStore()
	rec, _ := store.Create(ctx, calllog.CallRecord{ToPhone: "+15550100"})
	tr := NewTracker(store, time.Hour)

	if err := tr.RecordStatus(ctx, rec.ID, calllog.StatusCalling, ""); err != nil {
		t.Fatalf("RecordStatus() error = %v", err)
	}
	if err := tr.RecordTranscript(ctx, rec.ID, "User: hi\n"); err != nil {
		t.Fatalf("RecordTranscript() error = %v", err)
	}

	got, _ := store.Get(ctx, rec.ID)
	if got.Status != calllog.StatusCalling || got.Transcript != "User: hi\n" {
		t.Fatalf("record not updated: %+v", got)
	}

	// Empty record id means the call has no persisted record; both are no-ops.
	if err := tr.RecordStatus(ctx, "", calllog.StatusError, "x"); err != nil {
		t.Fatalf("RecordStatus with empty id error = %v", err)
	}
}

func TestJanitorExpiresStaleEntries(t *testing.T) {
	tr := NewTracker(calllog.NewInMemoryStore(), 30*time.Millisecond)
	_ = tr.Register("CA1", flow.CallFlow{ToPhone: "+15550100"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	if _, ok := tr.Lookup("CA1"); ok {
		t.Fatalf("stale entry should have been expired")
	}
}

package store

import (
	"testing"
	"time"
)

func TestInsertAndCountBufferEntries(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	if _, err := st.InsertBufferEntry("a1", `{"body":"one"}`, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry: %v", err)
	}
	if _, err := st.InsertBufferEntry("a1", `{"body":"two"}`, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry: %v", err)
	}
	// Expired on arrival: never counted as ready.
	if _, err := st.InsertBufferEntry("a1", `{"body":"stale"}`, now.Add(-time.Minute)); err != nil {
		t.Fatalf("InsertBufferEntry expired: %v", err)
	}
	if _, err := st.InsertBufferEntry("a2", `{"body":"elsewhere"}`, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry other agent: %v", err)
	}

	n, err := st.CountReadyBufferEntries("a1", now)
	if err != nil {
		t.Fatalf("CountReadyBufferEntries: %v", err)
	}
	if n != 2 {
		t.Errorf("ready entries for a1 = %d, want 2", n)
	}
}

func TestConsumeBufferEntryOldestFirst(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	firstID, err := st.InsertBufferEntry("a1", `{"body":"first"}`, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("InsertBufferEntry first: %v", err)
	}
	// created_at has second resolution in SQLite comparisons; space the
	// inserts so ordering is deterministic.
	time.Sleep(1100 * time.Millisecond)
	if _, err := st.InsertBufferEntry("a1", `{"body":"second"}`, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry second: %v", err)
	}

	entry, err := st.ConsumeBufferEntry("a1", now)
	if err != nil {
		t.Fatalf("ConsumeBufferEntry: %v", err)
	}
	if entry == nil {
		t.Fatal("ConsumeBufferEntry returned nil with entries ready")
	}
	if entry.ID != firstID {
		t.Errorf("consumed %s, want oldest %s", entry.ID, firstID)
	}
	if entry.Status != BufferStatusConsumed {
		t.Errorf("status = %s, want consumed", entry.Status)
	}

	// The consumed entry is gone from the ready pool.
	n, err := st.CountReadyBufferEntries("a1", now)
	if err != nil {
		t.Fatalf("CountReadyBufferEntries: %v", err)
	}
	if n != 1 {
		t.Errorf("ready after consume = %d, want 1", n)
	}
}

func TestConsumeBufferEntrySkipsExpired(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	if _, err := st.InsertBufferEntry("a1", `{"body":"stale"}`, now.Add(-time.Minute)); err != nil {
		t.Fatalf("InsertBufferEntry: %v", err)
	}

	entry, err := st.ConsumeBufferEntry("a1", now)
	if err != nil {
		t.Fatalf("ConsumeBufferEntry: %v", err)
	}
	if entry != nil {
		t.Errorf("consumed an expired entry: %+v", entry)
	}
}

func TestConsumeBufferEntryEmpty(t *testing.T) {
	st := newTestStore(t)

	entry, err := st.ConsumeBufferEntry("a1", time.Now())
	if err != nil {
		t.Fatalf("ConsumeBufferEntry: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil on empty buffer, got %+v", entry)
	}
}

func TestSweepBufferEntries(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	if _, err := st.InsertBufferEntry("a1", `{"body":"keep"}`, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry keep: %v", err)
	}
	if _, err := st.InsertBufferEntry("a1", `{"body":"expired"}`, now.Add(-time.Minute)); err != nil {
		t.Fatalf("InsertBufferEntry expired: %v", err)
	}
	if _, err := st.InsertBufferEntry("a1", `{"body":"consumed"}`, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertBufferEntry consumed: %v", err)
	}
	// Consume one of the live entries so the sweep has a consumed row.
	if _, err := st.ConsumeBufferEntry("a1", now); err != nil {
		t.Fatalf("ConsumeBufferEntry: %v", err)
	}

	n, err := st.SweepBufferEntries(now)
	if err != nil {
		t.Fatalf("SweepBufferEntries: %v", err)
	}
	if n != 2 {
		t.Errorf("swept = %d, want 2 (one consumed, one expired)", n)
	}

	remaining, err := st.CountReadyBufferEntries("a1", now)
	if err != nil {
		t.Fatalf("CountReadyBufferEntries: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining ready = %d, want 1", remaining)
	}
}

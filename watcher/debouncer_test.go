package watcher

import (
	"testing"
	"time"
)

const testInterval = 50 * time.Millisecond

func receiveBatch(t *testing.T, d *Debouncer, timeout time.Duration) []DebouncedEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(timeout):
		t.Fatal("timed out waiting for debouncer batch")
		return nil
	}
}

func Test_Debouncer_SingleEvent(t *testing.T) {
	d := NewDebouncer(testInterval)

	d.Add("main.go", OpWrite)

	batch := receiveBatch(t, d, 500*time.Millisecond)

	if len(batch) != 1 {
		t.Fatalf("expected 1 event, got %d", len(batch))
	}
	if batch[0].Path != "main.go" {
		t.Errorf("expected path 'main.go', got '%s'", batch[0].Path)
	}
	if batch[0].Op != OpWrite {
		t.Errorf("expected write, got %s", batch[0].Op)
	}
}

func Test_Debouncer_EventCollapsing(t *testing.T) {
	d := NewDebouncer(testInterval)

	// Same path twice collapses to one event with the latest op
	d.Add("main.go", OpCreate)
	d.Add("main.go", OpWrite)

	batch := receiveBatch(t, d, 500*time.Millisecond)

	if len(batch) != 1 {
		t.Fatalf("expected 1 event (collapsed), got %d", len(batch))
	}
	if batch[0].Op != OpWrite {
		t.Errorf("expected latest op write, got %s", batch[0].Op)
	}
}

func Test_Debouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(testInterval)

	d.Add("main.go", OpWrite)
	d.Add("util.go", OpCreate)
	d.Add("README.md", OpRemove)

	batch := receiveBatch(t, d, 500*time.Millisecond)

	if len(batch) != 3 {
		t.Fatalf("expected 3 events, got %d", len(batch))
	}
	expectedPaths := []string{"README.md", "main.go", "util.go"}
	for i, expected := range expectedPaths {
		if batch[i].Path != expected {
			t.Errorf("event[%d]: expected path '%s', got '%s'", i, expected, batch[i].Path)
		}
	}
}

func Test_Debouncer_TimerReset(t *testing.T) {
	d := NewDebouncer(testInterval)

	d.Add("main.go", OpWrite)

	// Another event inside the interval resets the timer
	time.Sleep(testInterval / 2)
	d.Add("util.go", OpWrite)

	batch := receiveBatch(t, d, 500*time.Millisecond)

	if len(batch) != 2 {
		t.Fatalf("expected 2 events in single batch, got %d", len(batch))
	}
}

func Test_Debouncer_Stop(t *testing.T) {
	d := NewDebouncer(testInterval)

	d.Add("main.go", OpWrite)
	d.Stop()
	d.Add("util.go", OpWrite)

	select {
	case batch := <-d.Output():
		t.Fatalf("expected no batch after Stop, got %v", batch)
	case <-time.After(4 * testInterval):
	}
}

func Test_EventOp_String(t *testing.T) {
	tests := map[EventOp]string{
		OpCreate:   "create",
		OpWrite:    "write",
		OpRemove:   "remove",
		OpRename:   "rename",
		EventOp(9): "unknown",
	}
	for op, expected := range tests {
		if got := op.String(); got != expected {
			t.Errorf("EventOp(%d).String() = %q, want %q", int(op), got, expected)
		}
	}
}

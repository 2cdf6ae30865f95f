package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"skipper/internal/converge"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRecordAndList(t *testing.T) {
	store := openTestStore(t)

	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	run := Run{
		Host:      "deploy@host.example.com",
		Operation: "provision",
		Status:    "converged",
		Steps: []converge.StepRecord{
			{Name: converge.StepSyncSource, Status: converge.StepPerformed, Reason: "cloned repository"},
			{Name: converge.StepStartService, Status: converge.StepPerformed, Reason: "started service"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}
	if err := store.Record(run); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	runs, err := store.List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("List() returned %d runs, want 1", len(runs))
	}

	got := runs[0]
	if got.Host != run.Host || got.Operation != run.Operation || got.Status != run.Status {
		t.Errorf("run = %+v, want %+v", got, run)
	}
	if len(got.Steps) != 2 || got.Steps[0].Name != converge.StepSyncSource {
		t.Errorf("steps = %+v, want the recorded step list", got.Steps)
	}
	if !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("started at = %s, want %s", got.StartedAt, run.StartedAt)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := openTestStore(t)

	for _, op := range []string{"provision", "update", "update"} {
		if err := store.Record(Run{Host: "h", Operation: op, Status: "converged", StartedAt: time.Now(), FinishedAt: time.Now()}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	runs, err := store.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List(2) returned %d runs", len(runs))
	}
	if runs[0].ID < runs[1].ID {
		t.Errorf("runs not newest first: ids %d, %d", runs[0].ID, runs[1].ID)
	}
}

func TestStatusFor(t *testing.T) {
	skippedAll := converge.Result{Steps: []converge.StepRecord{{Name: converge.StepSyncSource, Status: converge.StepSkipped}}}
	performed := converge.Result{Steps: []converge.StepRecord{{Name: converge.StepSyncSource, Status: converge.StepPerformed}}}

	if got := StatusFor(performed, errors.New("boom")); got != "failed" {
		t.Errorf("StatusFor(err) = %q, want failed", got)
	}
	if got := StatusFor(skippedAll, nil); got != "no-op" {
		t.Errorf("StatusFor(all skipped) = %q, want no-op", got)
	}
	if got := StatusFor(performed, nil); got != "converged" {
		t.Errorf("StatusFor(performed) = %q, want converged", got)
	}
}

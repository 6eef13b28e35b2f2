package jobs

import (
	"errors"
	"testing"

	"github.com/promptgate/promptgate/pkg/models"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()

	job := r.Create()
	if job.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if job.Status != models.StatusProcessing {
		t.Errorf("expected processing status, got %s", job.Status)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected started_at to be set")
	}

	got, err := r.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != job.ID || got.Status != models.StatusProcessing {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteSuccess(t *testing.T) {
	r := NewRegistry()
	job := r.Create()

	if err := r.Complete(job.ID, models.Result{Success: true, Output: "done"}); err != nil {
		t.Fatal(err)
	}

	got, err := r.Get(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if got.Result == nil || got.Result.Output != "done" {
		t.Errorf("expected result attached, got %+v", got.Result)
	}
}

func TestCompleteFailure(t *testing.T) {
	r := NewRegistry()
	job := r.Create()

	if err := r.Complete(job.ID, models.Result{Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	r := NewRegistry()
	job := r.Create()

	if err := r.Complete(job.ID, models.Result{Success: true}); err != nil {
		t.Fatal(err)
	}

	err := r.Complete(job.ID, models.Result{Error: "late"})
	if !errors.Is(err, ErrFinished) {
		t.Errorf("expected ErrFinished, got %v", err)
	}

	// The terminal outcome is untouched.
	got, _ := r.Get(job.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("terminal status reverted to %s", got.Status)
	}
}

func TestCompleteUnknown(t *testing.T) {
	r := NewRegistry()

	err := r.Complete("nope", models.Result{Success: true})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchJob(t *testing.T) {
	r := NewRegistry()
	job := r.CreateBatch(3)

	if job.TotalPrompts != 3 {
		t.Errorf("expected 3 total prompts, got %d", job.TotalPrompts)
	}

	results := []models.Result{
		{Success: true, Output: "a"},
		{Error: "boom"},
		{Success: true, Output: "c"},
	}
	if err := r.CompleteBatch(job.ID, results); err != nil {
		t.Fatal(err)
	}

	got, _ := r.Get(job.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if len(got.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(got.Results))
	}
}

func TestList(t *testing.T) {
	r := NewRegistry()

	first := r.Create()
	second := r.Create()
	_ = r.Complete(first.ID, models.Result{Success: true})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(list))
	}

	byID := make(map[string]models.JobStatus, len(list))
	for _, s := range list {
		byID[s.ID] = s.Status
	}
	if byID[first.ID] != models.StatusCompleted {
		t.Errorf("expected first job completed, got %s", byID[first.ID])
	}
	if byID[second.ID] != models.StatusProcessing {
		t.Errorf("expected second job processing, got %s", byID[second.ID])
	}
	for i := 1; i < len(list); i++ {
		if list[i].StartedAt.After(list[i-1].StartedAt) {
			t.Error("expected newest-first ordering")
		}
	}
}

func TestUniqueIDs(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		job := r.Create()
		if seen[job.ID] {
			t.Fatalf("duplicate job ID %s", job.ID)
		}
		seen[job.ID] = true
	}
}

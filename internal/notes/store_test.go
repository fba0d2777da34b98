package notes

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndSearch(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Save("Kubernetes cluster upgrade scheduled for Friday", "infra"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save("Buy groceries: milk, eggs, bread", "personal"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := s.Search("kubernetes upgrade", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Score <= 0 {
		t.Errorf("expected positive score, got %f", results[0].Score)
	}
	if results[0].Note.Tags != "infra" {
		t.Errorf("tags = %q", results[0].Note.Tags)
	}
}

func TestSearchNoMatch(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save("hello world", ""); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search("quasar", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSaveEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save("", ""); err == nil {
		t.Error("expected error for empty note")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Save("temporary", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
	if err := s.Delete(n.ID); err == nil {
		t.Error("expected error deleting missing note")
	}
}

func TestRecentOrder(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save("first", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save("second", ""); err != nil {
		t.Fatal(err)
	}

	notes, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
}

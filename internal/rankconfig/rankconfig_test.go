package rankconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetMissingFileUsesDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "ranking.json"))
	cfg := s.Get()
	if cfg.Urgency.Overdue != 40 {
		t.Fatalf("urgency.overdue = %v, want 40", cfg.Urgency.Overdue)
	}
	if cfg.Tags.MaxTags != 2 {
		t.Fatalf("tags.max_tags = %v, want 2", cfg.Tags.MaxTags)
	}
	if cfg.Filters.Mode != "soft" {
		t.Fatalf("filters.mode = %q, want soft", cfg.Filters.Mode)
	}
}

func TestGetCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranking.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	cfg := s.Get()
	if cfg.Risk.UnverifiedPenalty != 5 {
		t.Fatalf("risk.unverified_penalty = %v, want default 5", cfg.Risk.UnverifiedPenalty)
	}
}

func TestPartialOverrideKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranking.json")
	doc := `{"urgency":{"overdue":99,"due_24h":35,"due_48h":30,"due_7d":20,"due_30d":10,"else":5,"project_cap":20},"tags":{"max_tags":3,"priority_order":["overdue"]}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	cfg := s.Get()
	if cfg.Urgency.Overdue != 99 {
		t.Fatalf("urgency.overdue = %v, want 99", cfg.Urgency.Overdue)
	}
	if cfg.Tags.MaxTags != 3 {
		t.Fatalf("tags.max_tags = %v, want 3", cfg.Tags.MaxTags)
	}
	if cfg.Risk.UnverifiedPenalty != 5 {
		t.Fatalf("risk left at default, got %v", cfg.Risk.UnverifiedPenalty)
	}
	if cfg.Fit.Context.Mismatch != -15 {
		t.Fatalf("fit.context.mismatch = %v, want -15", cfg.Fit.Context.Mismatch)
	}
}

func TestInvalidateRereads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranking.json")
	s := NewStore(path)
	if got := s.Get().Urgency.Overdue; got != 40 {
		t.Fatalf("initial overdue = %v", got)
	}
	doc := `{"urgency":{"overdue":55,"due_24h":35,"due_48h":30,"due_7d":20,"due_30d":10,"else":5,"project_cap":20}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.Get().Urgency.Overdue; got != 40 {
		t.Fatalf("cached overdue = %v, want 40 before invalidate", got)
	}
	s.Invalidate()
	if got := s.Get().Urgency.Overdue; got != 55 {
		t.Fatalf("overdue after invalidate = %v, want 55", got)
	}
}

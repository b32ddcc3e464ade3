package ranking

import (
	"strings"
	"testing"
	"time"

	"nextaction/internal/domain"
	"nextaction/internal/rankconfig"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int              { return &n }
func timePtr(t time.Time) *time.Time { return &t }

func candidate(id string, mutate func(*Candidate)) Candidate {
	c := Candidate{
		Task: domain.Task{
			ID:               id,
			ActionText:       "Call someone about " + id,
			Context:          "calls",
			Energy:           "medium",
			EstimatedMinutes: intPtr(15),
			Priority:         5,
			Status:           "open",
		},
		CreatedAt: now.Add(-24 * time.Hour),
		UpdatedAt: now.Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(&c)
	}
	return c
}

func rank(t *testing.T, cands []Candidate, opts Options) ([]Ranked, []Excluded) {
	t.Helper()
	return Rank(now, cands, opts, rankconfig.Default())
}

func TestOverdueOutranksAndTagged(t *testing.T) {
	overdue := candidate("overdue", func(c *Candidate) {
		c.DueDate = timePtr(now.Add(-48 * time.Hour))
	})
	plain := candidate("plain", nil)
	ranked, _ := rank(t, []Candidate{plain, overdue}, Options{})
	if ranked[0].Task.ID != "overdue" {
		t.Fatalf("first = %s, want overdue", ranked[0].Task.ID)
	}
	if !containsTag(ranked[0].ReasonTags, "Overdue") {
		t.Fatalf("tags = %v, want Overdue", ranked[0].ReasonTags)
	}
	if ranked[0].Breakdown.Urgency != 40 {
		t.Fatalf("urgency = %v, want 40", ranked[0].Breakdown.Urgency)
	}
}

func TestPinnedPrecedesHigherScore(t *testing.T) {
	pinned := candidate("pinned", func(c *Candidate) {
		c.Task.PinnedOrder = intPtr(1)
	})
	urgent := candidate("urgent", func(c *Candidate) {
		c.DueDate = timePtr(now.Add(-time.Hour))
	})
	ranked, _ := rank(t, []Candidate{urgent, pinned}, Options{})
	if ranked[0].Task.ID != "pinned" {
		t.Fatalf("first = %s, want pinned before higher score", ranked[0].Task.ID)
	}
}

func TestManualRankAfterPins(t *testing.T) {
	manual := candidate("manual", func(c *Candidate) {
		c.Task.ManualRank = intPtr(1)
	})
	urgent := candidate("urgent", func(c *Candidate) {
		c.DueDate = timePtr(now.Add(-time.Hour))
	})
	pinned := candidate("pinned", func(c *Candidate) {
		c.Task.PinnedOrder = intPtr(5)
	})
	ranked, _ := rank(t, []Candidate{urgent, manual, pinned}, Options{})
	if ranked[0].Task.ID != "pinned" || ranked[1].Task.ID != "manual" || ranked[2].Task.ID != "urgent" {
		t.Fatalf("order = %s,%s,%s", ranked[0].Task.ID, ranked[1].Task.ID, ranked[2].Task.ID)
	}
}

func TestUnverifiedNeedsReviewFirstAndPenalized(t *testing.T) {
	c := candidate("unverified", func(c *Candidate) {
		c.Task.Unverified = true
		c.DueDate = timePtr(now.Add(-time.Hour))
	})
	ranked, _ := rank(t, []Candidate{c}, Options{})
	if len(ranked[0].ReasonTags) == 0 || ranked[0].ReasonTags[0] != "Needs review" {
		t.Fatalf("tags = %v, want Needs review first", ranked[0].ReasonTags)
	}
	if ranked[0].Breakdown.RiskPenalty <= 0 {
		t.Fatalf("riskPenalty = %v, want > 0", ranked[0].Breakdown.RiskPenalty)
	}
}

func TestMissingMetadataCarriesNoRiskPenalty(t *testing.T) {
	bare := candidate("bare", func(c *Candidate) {
		c.Task.Context = ""
		c.Task.Energy = ""
		c.Task.EstimatedMinutes = nil
	})
	ranked, _ := rank(t, []Candidate{bare}, Options{})
	if ranked[0].Breakdown.RiskPenalty != 0 {
		t.Fatalf("riskPenalty = %v, want 0 for a verified task", ranked[0].Breakdown.RiskPenalty)
	}
}

func TestStrictModeExcludesWithReason(t *testing.T) {
	slow := candidate("slow", func(c *Candidate) {
		c.Task.EstimatedMinutes = intPtr(60)
	})
	quick := candidate("quick", func(c *Candidate) {
		c.Task.EstimatedMinutes = intPtr(10)
	})
	ranked, excluded := rank(t, []Candidate{slow, quick}, Options{
		Filters: Filters{TimeAvailable: 15},
		Mode:    "strict",
	})
	if len(ranked) != 1 || ranked[0].Task.ID != "quick" {
		t.Fatalf("ranked = %d entries", len(ranked))
	}
	if len(excluded) != 1 || excluded[0].Task.ID != "slow" {
		t.Fatalf("excluded = %+v", excluded)
	}
	if !strings.Contains(excluded[0].Reason, "60 min") {
		t.Fatalf("reason = %q, want mention of 60 min", excluded[0].Reason)
	}
}

func TestSoftModeKeepsMismatchWithNegativeFit(t *testing.T) {
	slow := candidate("slow", func(c *Candidate) {
		c.Task.EstimatedMinutes = intPtr(120)
	})
	ranked, excluded := rank(t, []Candidate{slow}, Options{
		Filters: Filters{TimeAvailable: 15},
		Mode:    "soft",
	})
	if len(excluded) != 0 {
		t.Fatalf("excluded = %+v, want none in soft mode", excluded)
	}
	if ranked[0].Breakdown.Fit >= 0 {
		t.Fatalf("fit = %v, want negative", ranked[0].Breakdown.Fit)
	}
}

func TestSnoozedIntoFutureDropped(t *testing.T) {
	snoozed := candidate("snoozed", func(c *Candidate) {
		c.SnoozedUntil = timePtr(now.Add(2 * time.Hour))
	})
	woken := candidate("woken", func(c *Candidate) {
		c.SnoozedUntil = timePtr(now.Add(-2 * time.Hour))
	})
	ranked, excluded := rank(t, []Candidate{snoozed, woken}, Options{})
	if len(ranked) != 1 || ranked[0].Task.ID != "woken" {
		t.Fatalf("ranked = %+v", ranked)
	}
	if len(excluded) != 0 {
		t.Fatalf("snoozed tasks are dropped, not excluded: %+v", excluded)
	}
}

func TestFocusProjectImportance(t *testing.T) {
	focus := candidate("focus", func(c *Candidate) {
		c.Project = &ProjectInfo{ID: "p1", Priority: 6, FocusThisWeek: true}
	})
	plain := candidate("plain", nil)
	ranked, _ := rank(t, []Candidate{plain, focus}, Options{})
	if ranked[0].Task.ID != "focus" {
		t.Fatalf("first = %s, want focus", ranked[0].Task.ID)
	}
	// priority bucket 5 + project 6 + focus bonus 2 = 13
	if ranked[0].Breakdown.Importance != 13 {
		t.Fatalf("importance = %v, want 13", ranked[0].Breakdown.Importance)
	}
}

func TestLeverageFromUnblockedSiblings(t *testing.T) {
	next := candidate("next", func(c *Candidate) {
		c.NextActionOpenTasks = 5
	})
	ranked, _ := rank(t, []Candidate{next}, Options{})
	if ranked[0].Breakdown.Leverage != 15 {
		t.Fatalf("leverage = %v, want 15 for 4 blocked", ranked[0].Breakdown.Leverage)
	}
	if !containsTag(ranked[0].ReasonTags, "Unblocks 4 tasks") {
		t.Fatalf("tags = %v", ranked[0].ReasonTags)
	}
}

func TestBreakdownFieldsSumToTotal(t *testing.T) {
	c := candidate("sum", func(c *Candidate) {
		c.DueDate = timePtr(now.Add(12 * time.Hour))
		c.Task.Unverified = true
	})
	ranked, _ := rank(t, []Candidate{c}, Options{Filters: Filters{TimeAvailable: 30, Context: "calls", Energy: "medium"}})
	b := ranked[0].Breakdown
	want := b.Urgency + b.Importance + b.Leverage + b.Staleness + b.Fit - b.Friction - b.RiskPenalty
	if b.Total != want {
		t.Fatalf("total = %v, want %v", b.Total, want)
	}
	if b.Total != ranked[0].Score {
		t.Fatalf("score = %v, breakdown total = %v", ranked[0].Score, b.Total)
	}
}

func TestDeterministicTieBreaks(t *testing.T) {
	early := candidate("early", func(c *Candidate) {
		c.CreatedAt = now.Add(-72 * time.Hour)
		c.UpdatedAt = now.Add(-24 * time.Hour)
	})
	late := candidate("late", func(c *Candidate) {
		c.CreatedAt = now.Add(-24 * time.Hour)
		c.UpdatedAt = now.Add(-24 * time.Hour)
	})
	for i := 0; i < 5; i++ {
		ranked, _ := rank(t, []Candidate{late, early}, Options{})
		if ranked[0].Task.ID != "early" {
			t.Fatalf("run %d: first = %s, want early (older createdAt)", i, ranked[0].Task.ID)
		}
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

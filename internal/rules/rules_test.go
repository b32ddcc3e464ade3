package rules

import (
	"strings"
	"testing"

	"nextaction/internal/domain"
)

func TestItemTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{domain.StateInbox, domain.StateClarifying, true},
		{domain.StateInbox, domain.StateActionable, true},
		{domain.StateInbox, domain.StateDone, false},
		{domain.StateActionable, domain.StateDone, true},
		{domain.StateActionable, domain.StateSnoozed, true},
		{domain.StateActionable, domain.StateArchived, false},
		{domain.StateWaiting, domain.StateActionable, true},
		{domain.StateSnoozed, domain.StateDone, true},
		{domain.StateDone, domain.StateArchived, true},
		{domain.StateDone, domain.StateActionable, false},
		{domain.StateArchived, domain.StateInbox, false},
		{domain.StateProject, domain.StateDone, false},
		{domain.StateSomeday, domain.StateActionable, true},
		{domain.StateReference, domain.StateArchived, true},
		{domain.StateReference, domain.StateActionable, false},
	}
	for _, c := range cases {
		if got := ItemTransitionAllowed(c.from, c.to); got != c.allowed {
			t.Errorf("ItemTransitionAllowed(%s, %s) = %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestProjectTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{domain.ProjectClarifying, domain.ProjectActive, true},
		{domain.ProjectClarifying, domain.ProjectDone, false},
		{domain.ProjectActive, domain.ProjectWaiting, true},
		{domain.ProjectActive, domain.ProjectDone, true},
		{domain.ProjectWaiting, domain.ProjectActive, true},
		{domain.ProjectOnHold, domain.ProjectArchived, true},
		{domain.ProjectSomeday, domain.ProjectActive, true},
		{domain.ProjectDone, domain.ProjectArchived, true},
		{domain.ProjectArchived, domain.ProjectActive, false},
	}
	for _, c := range cases {
		if got := ProjectTransitionAllowed(c.from, c.to); got != c.allowed {
			t.Errorf("ProjectTransitionAllowed(%s, %s) = %v, want %v", c.from, c.to, got, c.allowed)
		}
	}
}

func TestCheckNextAction(t *testing.T) {
	cases := []struct {
		text   string
		ok     bool
		reason string
	}{
		{"Call dentist to book cleaning", true, ""},
		{"Email Sam about the lease renewal", true, ""},
		{"Set up the staging environment", true, ""},
		{"Emails CPA the documents", true, ""},
		{"Calls dentist about cleaning", true, ""},
		{"Updates the budget spreadsheet", true, ""},
		{"hm", false, "Too short to be a concrete action"},
		{"    ", false, "Too short to be a concrete action"},
		{"Figure out taxes", false, `Vague placeholder: "figure out"`},
		{"Handle the situation", false, `Vague placeholder: "handle"`},
		{"Taxes for this year", false, "Next action should start with a verb (e.g. call, email, draft)"},
		{"Draft: intro paragraph", true, ""},
	}
	for _, c := range cases {
		ok, reason := CheckNextAction(c.text)
		if ok != c.ok {
			t.Errorf("CheckNextAction(%q) ok = %v, want %v (reason %q)", c.text, ok, c.ok, reason)
			continue
		}
		if !ok && reason != c.reason {
			t.Errorf("CheckNextAction(%q) reason = %q, want %q", c.text, reason, c.reason)
		}
	}
}

func TestDispositionTargets(t *testing.T) {
	cases := map[string][2]string{
		DispositionNextAction: {"task", domain.StateActionable},
		DispositionProject:    {"project", domain.StateProject},
		DispositionWaiting:    {"waiting", domain.StateWaiting},
		DispositionSomeday:    {"someday", domain.StateSomeday},
		DispositionReference:  {"reference", domain.StateReference},
		DispositionTrash:      {"trash", domain.StateArchived},
	}
	for d, want := range cases {
		typ, state := DispositionTarget(d)
		if typ != want[0] || state != want[1] {
			t.Errorf("DispositionTarget(%s) = (%s, %s), want (%s, %s)", d, typ, state, want[0], want[1])
		}
	}
	if _, err := ParseDisposition("someday"); err != nil {
		t.Fatalf("ParseDisposition(someday): %v", err)
	}
	if _, err := ParseDisposition("defer"); err == nil || !strings.Contains(err.Error(), "unknown disposition") {
		t.Fatalf("ParseDisposition(defer) err = %v, want unknown disposition", err)
	}
}

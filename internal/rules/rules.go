// Package rules holds the static transition tables, the deterministic
// next-action checker, and the clarify disposition mapping. Everything here is
// pure; persistence and verifier calls live in the engine.
package rules

import (
	"fmt"
	"strings"

	"nextaction/internal/domain"
)

var itemTransitions = map[string][]string{
	domain.StateInbox:      {domain.StateClarifying, domain.StateActionable, domain.StateProject, domain.StateReference, domain.StateSomeday, domain.StateArchived, domain.StateWaiting},
	domain.StateClarifying: {domain.StateActionable, domain.StateWaiting, domain.StateProject, domain.StateReference, domain.StateSomeday, domain.StateArchived},
	domain.StateActionable: {domain.StateDone, domain.StateWaiting, domain.StateSnoozed, domain.StateClarifying},
	domain.StateWaiting:    {domain.StateActionable, domain.StateSnoozed, domain.StateDone, domain.StateClarifying},
	domain.StateSnoozed:    {domain.StateActionable, domain.StateWaiting, domain.StateDone, domain.StateClarifying},
	domain.StateDone:       {domain.StateArchived},
	domain.StateArchived:   {},
	domain.StateProject:    {},
	domain.StateSomeday:    {domain.StateActionable, domain.StateClarifying, domain.StateReference, domain.StateArchived},
	domain.StateReference:  {domain.StateArchived},
}

var projectTransitions = map[string][]string{
	domain.ProjectClarifying: {domain.ProjectActive, domain.ProjectOnHold, domain.ProjectArchived},
	domain.ProjectActive:     {domain.ProjectWaiting, domain.ProjectOnHold, domain.ProjectDone, domain.ProjectClarifying},
	domain.ProjectWaiting:    {domain.ProjectActive, domain.ProjectOnHold, domain.ProjectDone, domain.ProjectClarifying},
	domain.ProjectOnHold:     {domain.ProjectActive, domain.ProjectClarifying, domain.ProjectArchived},
	domain.ProjectSomeday:    {domain.ProjectActive, domain.ProjectClarifying, domain.ProjectArchived},
	domain.ProjectDone:       {domain.ProjectArchived},
	domain.ProjectArchived:   {},
}

// ItemTransitionAllowed reports whether the item state machine permits from -> to.
func ItemTransitionAllowed(from, to string) bool {
	for _, s := range itemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ProjectTransitionAllowed reports whether the project status machine permits from -> to.
func ProjectTransitionAllowed(from, to string) bool {
	for _, s := range projectTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidItemState reports whether s names a known item state.
func ValidItemState(s string) bool {
	_, ok := itemTransitions[s]
	return ok
}

// ValidProjectStatus reports whether s names a known project status.
func ValidProjectStatus(s string) bool {
	_, ok := projectTransitions[s]
	return ok
}

var vaguePlaceholders = []string{
	"tbd", "figure out", "work on", "handle", "look into", "fix",
	"review", "check", "something", "stuff", "things",
}

var validVerbs = []string{
	"call", "email", "draft", "write", "send", "buy", "schedule", "book",
	"download", "fill", "submit", "compare", "ask", "reply", "create",
	"update", "delete", "add", "remove", "find", "get", "pick", "choose",
	"confirm", "cancel", "pay", "file", "sign", "upload", "copy", "paste",
	"move", "organize", "list", "research", "read", "watch", "test",
	"install", "set up", "configure",
}

// CheckNextAction applies the deterministic plausibility rules to a candidate
// next-action text. When ok is false, reason is a user-facing explanation.
func CheckNextAction(text string) (ok bool, reason string) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 5 {
		return false, "Too short to be a concrete action"
	}
	lower := strings.ToLower(trimmed)
	for _, p := range vaguePlaceholders {
		if strings.Contains(lower, p) {
			return false, fmt.Sprintf("Vague placeholder: %q", p)
		}
	}
	first := strings.Fields(lower)[0]
	first = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, first)
	for _, v := range validVerbs {
		// "emails" and "calls" count as "email" and "call"; a multi-word verb
		// like "set up" matches on its first word
		if first == v || strings.HasPrefix(first, v) || strings.HasPrefix(v, first+" ") {
			return true, ""
		}
	}
	return false, "Next action should start with a verb (e.g. call, email, draft)"
}

// Dispositions accepted by the clarify step.
const (
	DispositionNextAction = "next_action"
	DispositionProject    = "project"
	DispositionWaiting    = "waiting"
	DispositionSomeday    = "someday"
	DispositionReference  = "reference"
	DispositionTrash      = "trash"
)

// DispositionTarget maps a disposition to the item type and target state it
// implies. The mapping is total over the disposition set; unknown strings are
// rejected at the boundary by ParseDisposition.
func DispositionTarget(d string) (itemType, state string) {
	switch d {
	case DispositionNextAction:
		return "task", domain.StateActionable
	case DispositionProject:
		return "project", domain.StateProject
	case DispositionWaiting:
		return "waiting", domain.StateWaiting
	case DispositionSomeday:
		return "someday", domain.StateSomeday
	case DispositionReference:
		return "reference", domain.StateReference
	case DispositionTrash:
		return "trash", domain.StateArchived
	}
	return "", ""
}

// ParseDisposition validates a disposition string from the API or CLI.
func ParseDisposition(d string) (string, error) {
	switch d {
	case DispositionNextAction, DispositionProject, DispositionWaiting,
		DispositionSomeday, DispositionReference, DispositionTrash:
		return d, nil
	}
	return "", fmt.Errorf("unknown disposition %q", d)
}

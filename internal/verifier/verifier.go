// Package verifier wraps the semantic checks that gates consult before
// approving a transition. Verdicts are structured; anything other than PASS
// blocks the gate unless the caller forces through.
package verifier

import (
	"context"
	"fmt"
	"strings"
)

func hasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

const (
	StatusPass      = "PASS"
	StatusFail      = "FAIL"
	StatusNeedsUser = "NEEDS_USER"
)

type Failure struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	FieldRef string `json:"fieldRef,omitempty"`
}

type Output struct {
	Status             string    `json:"status"`
	Failures           []Failure `json:"failures,omitempty"`
	MissingInputs      []string  `json:"missingInputs,omitempty"`
	VaguenessFlags     []string  `json:"vaguenessFlags,omitempty"`
	UnverifiableClaims []string  `json:"unverifiableClaims,omitempty"`
}

// Evidence is the latest artifact supplied to the completion check.
type Evidence struct {
	ArtifactType string
	Content      *string
	FilePointer  *string
}

// Verifier is the adapter the engine gates call. Implementations convert
// transport problems into NEEDS_USER verdicts rather than returning errors;
// a gate must never pass silently because the checker was unreachable.
type Verifier interface {
	VerifyNextAction(ctx context.Context, actionText string) Output
	VerifyCompletion(ctx context.Context, title, actionText string, ev *Evidence) Output
	VerifyProjectOutcome(ctx context.Context, outcome string) Output
	VerifyProjectNextAction(ctx context.Context, outcome, actionText string) Output
	VerifyProjectDone(ctx context.Context, outcome string, openTasks int) Output
}

// Offline implements the deterministic verdicts used when no model backend is
// configured and in tests.
type Offline struct{}

func (Offline) VerifyNextAction(context.Context, string) Output {
	return Output{Status: StatusPass}
}

func (Offline) VerifyCompletion(_ context.Context, _, _ string, ev *Evidence) Output {
	if ev != nil && (hasText(ev.Content) || hasText(ev.FilePointer)) {
		return Output{Status: StatusPass}
	}
	return Output{
		Status: StatusFail,
		Failures: []Failure{{
			Code:     "NO_EVIDENCE",
			Severity: "high",
			Message:  "No draft artifact attached",
		}},
	}
}

func (Offline) VerifyProjectOutcome(context.Context, string) Output {
	return Output{Status: StatusPass}
}

func (Offline) VerifyProjectNextAction(context.Context, string, string) Output {
	return Output{Status: StatusPass}
}

func (Offline) VerifyProjectDone(_ context.Context, _ string, openTasks int) Output {
	if openTasks == 0 {
		return Output{Status: StatusPass}
	}
	return Output{
		Status: StatusNeedsUser,
		Failures: []Failure{{
			Code:     "OPEN_TASKS",
			Severity: "medium",
			Message:  fmt.Sprintf("%d open task(s) remain", openTasks),
		}},
	}
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nextaction/internal/audit"
	"nextaction/internal/domain"
	"nextaction/internal/repo"
	"nextaction/internal/rules"
	"nextaction/internal/verifier"
)

// ProjectCreateOptions are parameters for creating a standalone project.
type ProjectCreateOptions struct {
	OutcomeStatement string
	DueDate          *string
	Priority         *int
	FocusThisWeek    bool
	ThemeTag         *string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.OutcomeStatement) == "" {
		return domain.Project{}, errors.New("outcome statement is required")
	}
	now := e.nowStr()
	p := domain.Project{
		ID:               uuid.New().String(),
		OutcomeStatement: strings.TrimSpace(opts.OutcomeStatement),
		Status:           domain.ProjectClarifying,
		DueDate:          opts.DueDate,
		Priority:         5,
		FocusThisWeek:    opts.FocusThisWeek,
		ThemeTag:         opts.ThemeTag,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.Priority != nil {
		p.Priority = *opts.Priority
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectPatch updates project fields. Pointer semantics: nil leaves the field
// alone, a pointer to the empty string clears nullable fields.
type ProjectPatch struct {
	OutcomeStatement *string
	NextActionTaskID *string
	DueDate          *string
	Priority         *int
	FocusThisWeek    *bool
	ThemeTag         *string
	WaitingOn        *string
}

// UpdateProject applies a patch. Changing the outcome or next action of an
// ACTIVE project re-runs the readiness checks without the verifier; the edit
// still lands, but an unready project is demoted on the spot: WAITING when its
// next action is itself waiting on someone, else back to CLARIFYING with the
// next-action link dropped.
func (e Engine) UpdateProject(ctx context.Context, id string, patch ProjectPatch, actor string, opts TransitionOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	if patch.OutcomeStatement != nil {
		p.OutcomeStatement = strings.TrimSpace(*patch.OutcomeStatement)
	}
	if patch.NextActionTaskID != nil {
		if *patch.NextActionTaskID == "" {
			p.NextActionTaskID = nil
		} else {
			if _, err := e.Repo.GetTask(ctx, *patch.NextActionTaskID); err != nil {
				return p, err
			}
			p.NextActionTaskID = patch.NextActionTaskID
		}
	}
	if patch.DueDate != nil {
		if *patch.DueDate == "" {
			p.DueDate = nil
		} else {
			p.DueDate = patch.DueDate
		}
	}
	if patch.Priority != nil {
		p.Priority = *patch.Priority
	}
	if patch.FocusThisWeek != nil {
		p.FocusThisWeek = *patch.FocusThisWeek
	}
	if patch.ThemeTag != nil {
		if *patch.ThemeTag == "" {
			p.ThemeTag = nil
		} else {
			p.ThemeTag = patch.ThemeTag
		}
	}
	if patch.WaitingOn != nil {
		if *patch.WaitingOn == "" {
			p.WaitingOn = nil
		} else {
			p.WaitingOn = patch.WaitingOn
		}
	}

	if p.Status == domain.ProjectActive && !opts.Force &&
		(patch.OutcomeStatement != nil || patch.NextActionTaskID != nil) {
		reasons, _, err := e.projectGate(ctx, p, false)
		if err != nil {
			return p, err
		}
		if len(reasons) > 0 {
			p.Status = e.demotionStatus(ctx, p)
			if p.Status == domain.ProjectClarifying {
				p.NextActionTaskID = nil
			}
			if p.Status == domain.ProjectWaiting && p.WaitingSince == nil {
				since := e.nowStr()
				p.WaitingSince = &since
			}
		}
	}

	p.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// demotionStatus picks where an active project lands when an edit leaves it
// unready.
func (e Engine) demotionStatus(ctx context.Context, p domain.Project) string {
	if p.NextActionTaskID == nil {
		return domain.ProjectClarifying
	}
	t, err := e.Repo.GetTask(ctx, *p.NextActionTaskID)
	if err != nil {
		return domain.ProjectClarifying
	}
	it, err := e.Repo.GetItem(ctx, t.ItemID)
	if err != nil || it.State != domain.StateWaiting {
		return domain.ProjectClarifying
	}
	return domain.ProjectWaiting
}

// projectGate collects every readiness problem instead of stopping at the
// first: a well-formed outcome, a designated next action whose item is
// actionable right now, action text that passes the deterministic checker,
// and (for activation) passing verifier verdicts.
func (e Engine) projectGate(ctx context.Context, p domain.Project, withVerifier bool) ([]string, []verifier.Failure, error) {
	var reasons []string
	var failures []verifier.Failure

	if len(strings.TrimSpace(p.OutcomeStatement)) < 10 {
		reasons = append(reasons, "Outcome statement too short (min 10 chars)")
	}

	var actionText string
	if p.NextActionTaskID == nil {
		reasons = append(reasons, "No next action designated")
	} else {
		t, err := e.Repo.GetTask(ctx, *p.NextActionTaskID)
		if errors.Is(err, repo.ErrNotFound) {
			reasons = append(reasons, "Next action task not found")
		} else if err != nil {
			return nil, nil, err
		} else {
			actionText = t.ActionText
			it, err := e.Repo.GetItem(ctx, t.ItemID)
			if errors.Is(err, repo.ErrNotFound) {
				reasons = append(reasons, "Next action item not found")
			} else if err != nil {
				return nil, nil, err
			} else {
				if it.State != domain.StateActionable {
					reasons = append(reasons, fmt.Sprintf("Next action is %s, not ACTIONABLE", it.State))
				}
				if t.SnoozedUntil != nil {
					if until, perr := time.Parse(time.RFC3339, *t.SnoozedUntil); perr == nil && until.After(e.now()) {
						reasons = append(reasons, "Next action is snoozed")
					}
				}
			}
			if ok, reason := rules.CheckNextAction(t.ActionText); !ok {
				reasons = append(reasons, reason)
			}
		}
	}

	if withVerifier && len(reasons) == 0 {
		out := e.Verify.VerifyProjectOutcome(ctx, p.OutcomeStatement)
		if out.Status != verifier.StatusPass {
			for _, f := range out.Failures {
				reasons = append(reasons, f.Message)
			}
			if len(out.Failures) == 0 {
				reasons = append(reasons, "Outcome statement did not pass review")
			}
			failures = append(failures, out.Failures...)
		}
		out = e.Verify.VerifyProjectNextAction(ctx, p.OutcomeStatement, actionText)
		if out.Status != verifier.StatusPass {
			for _, f := range out.Failures {
				reasons = append(reasons, f.Message)
			}
			if len(out.Failures) == 0 {
				reasons = append(reasons, "Next action does not advance the outcome")
			}
			failures = append(failures, out.Failures...)
		}
	}
	return reasons, failures, nil
}

// SetProjectStatus changes a project's status through its transition table.
// Activation runs the full readiness gate; demotion to CLARIFYING clears the
// next-action link.
func (e Engine) SetProjectStatus(ctx context.Context, id, status, actor string, opts TransitionOptions) (domain.Project, error) {
	if !rules.ValidProjectStatus(status) {
		return domain.Project{}, fmt.Errorf("unknown project status %q", status)
	}
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	fromStatus := p.Status
	if !rules.ProjectTransitionAllowed(fromStatus, status) && !opts.Force {
		reasons := []string{fmt.Sprintf("transition_not_allowed: %s -> %s", fromStatus, status)}
		if err := e.auditProject(ctx, p, status, actor, opts, audit.DecisionRejected, reasons); err != nil {
			return p, err
		}
		return p, &GateError{Code: "transition_not_allowed", Reasons: reasons}
	}

	if status == domain.ProjectActive && !opts.Force {
		reasons, failures, err := e.projectGate(ctx, p, true)
		if err != nil {
			return p, err
		}
		if len(reasons) > 0 {
			if err := e.auditProject(ctx, p, status, actor, opts, audit.DecisionRejected, reasons); err != nil {
				return p, err
			}
			return p, &GateError{Code: "project_not_ready", Reasons: reasons, Failures: failures}
		}
	}

	now := e.nowStr()
	p.Status = status
	if status == domain.ProjectClarifying {
		p.NextActionTaskID = nil
	}
	if status == domain.ProjectWaiting && p.WaitingSince == nil {
		since := now
		p.WaitingSince = &since
	}
	p.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if p.ItemID != nil {
		if err := e.writer().Append(ctx, tx, audit.Entry{
			ItemID:           *p.ItemID,
			FromState:        fromStatus,
			ToStateAttempted: status,
			Decision:         audit.DecisionApproved,
			Actor:            actor,
			Override:         opts.Force,
			OverrideReason:   opts.OverrideReason,
		}); err != nil {
			return p, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// auditProject records a project status attempt on the project's backing item
// when one exists. Standalone projects reject without an audit row.
func (e Engine) auditProject(ctx context.Context, p domain.Project, status, actor string, opts TransitionOptions, decision string, reasons []string) error {
	if p.ItemID == nil {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           *p.ItemID,
		FromState:        p.Status,
		ToStateAttempted: status,
		Decision:         decision,
		Actor:            actor,
		Reasons:          reasons,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteProject closes out a project: the done verdict consults the open
// task count, and anything other than PASS needs an explicit force.
func (e Engine) CompleteProject(ctx context.Context, id, actor string, opts TransitionOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	if !rules.ProjectTransitionAllowed(p.Status, domain.ProjectDone) && !opts.Force {
		reasons := []string{fmt.Sprintf("transition_not_allowed: %s -> %s", p.Status, domain.ProjectDone)}
		if err := e.auditProject(ctx, p, domain.ProjectDone, actor, opts, audit.DecisionRejected, reasons); err != nil {
			return p, err
		}
		return p, &GateError{Code: "transition_not_allowed", Reasons: reasons}
	}

	open, err := e.Repo.CountOpenTasks(ctx, p.ID)
	if err != nil {
		return p, err
	}
	if !opts.Force {
		out := e.Verify.VerifyProjectDone(ctx, p.OutcomeStatement, open)
		if out.Status != verifier.StatusPass {
			code := "verifier_" + strings.ToLower(out.Status)
			reasons := []string{code}
			for _, f := range out.Failures {
				reasons = append(reasons, f.Code)
			}
			if err := e.auditProject(ctx, p, domain.ProjectDone, actor, opts, audit.DecisionRejected, reasons); err != nil {
				return p, err
			}
			return p, &GateError{Code: code, Reasons: reasons[1:], Failures: out.Failures}
		}
	}

	now := e.nowStr()
	fromStatus := p.Status
	p.Status = domain.ProjectDone
	p.NextActionTaskID = nil
	p.LastProgressAt = &now
	p.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return p, err
	}
	if p.ItemID != nil {
		if err := e.writer().Append(ctx, tx, audit.Entry{
			ItemID:           *p.ItemID,
			FromState:        fromStatus,
			ToStateAttempted: domain.ProjectDone,
			Decision:         audit.DecisionApproved,
			Actor:            actor,
			Override:         opts.Force,
			OverrideReason:   opts.OverrideReason,
		}); err != nil {
			return p, err
		}
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// syncProjectForNextActionTask keeps a project's status honest when the item
// backing its designated next action leaves the actionable loop. A waiting
// next action parks the project in WAITING; anything that stops being
// workable sends the project back to CLARIFYING and drops the link. Runs
// inside the transition's transaction.
func (e Engine) syncProjectForNextActionTask(ctx context.Context, tx *sql.Tx, taskID, newItemState, now string) error {
	p, err := e.Repo.GetProjectByNextActionTaskTx(ctx, tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	switch newItemState {
	case domain.StateWaiting:
		if !rules.ProjectTransitionAllowed(p.Status, domain.ProjectWaiting) {
			return nil
		}
		p.Status = domain.ProjectWaiting
		if p.WaitingSince == nil {
			since := now
			p.WaitingSince = &since
		}
	case domain.StateSnoozed, domain.StateClarifying, domain.StateArchived, domain.StateReference, domain.StateSomeday:
		if !rules.ProjectTransitionAllowed(p.Status, domain.ProjectClarifying) {
			return nil
		}
		p.Status = domain.ProjectClarifying
		p.NextActionTaskID = nil
	default:
		return nil
	}
	p.LastProgressAt = &now
	p.UpdatedAt = now
	return e.Repo.UpdateProjectTx(ctx, tx, p)
}

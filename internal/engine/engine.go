// Package engine executes lifecycle transitions. Every state change flows
// through here: table check, gate evaluation, then mutations and the audit row
// in a single transaction. Verifier calls happen before the transaction opens;
// the apply phase is keyed on the verdict alone.
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
	"nextaction/internal/config"
	"nextaction/internal/domain"
	"nextaction/internal/repo"
	"nextaction/internal/rules"
	"nextaction/internal/verifier"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Verify verifier.Verifier
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, v verifier.Verifier) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Verify: v,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() audit.Writer {
	w := e.Audit
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// GateError is returned when a gate or the transition table rejects an
// attempt. The rejection is already recorded in the audit log when this error
// is returned; callers render it as a 422 with the failures in the details.
// MissingInputs doubles as the list of questions to put back to the user.
type GateError struct {
	Code           string
	Reasons        []string
	Failures       []verifier.Failure
	MissingInputs  []string
	VaguenessFlags []string
}

func (g *GateError) Error() string {
	if len(g.Reasons) > 0 {
		return fmt.Sprintf("%s: %s", g.Code, strings.Join(g.Reasons, "; "))
	}
	return g.Code
}

// TransitionPayload carries the optional task fields a transition may set.
type TransitionPayload struct {
	ActionText       string
	Context          string
	Energy           string
	EstimatedMinutes *int
	DueDate          *string
	ProjectID        *string
	SnoozedUntil     *string
	WaitingOn        *string
	FollowUpAt       *string

	// itemType is set by Disposition so the type change lands in the same
	// transaction as the state change.
	itemType string
}

type TransitionOptions struct {
	Force          bool
	OverrideReason string
}

type TransitionResult struct {
	Item               domain.Item  `json:"item"`
	Task               *domain.Task `json:"task,omitempty"`
	ProjectID          *string      `json:"project_id,omitempty"`
	NextActionRequired bool         `json:"next_action_required,omitempty"`
}

// ExecuteTransition moves an item to the target state, running whatever gate
// the target requires. Gate rejections come back as *GateError with the
// rejection already audited; unknown items and storage problems are plain
// errors with nothing written.
func (e Engine) ExecuteTransition(ctx context.Context, itemID, target string, payload TransitionPayload, actor string, opts TransitionOptions) (TransitionResult, error) {
	if !rules.ValidItemState(target) {
		return TransitionResult{}, fmt.Errorf("unknown state %q", target)
	}
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !rules.ItemTransitionAllowed(it.State, target) && !opts.Force {
		return TransitionResult{Item: it}, e.reject(ctx, it, target, actor, opts, &GateError{
			Code:    "transition_not_allowed",
			Reasons: []string{fmt.Sprintf("transition_not_allowed: %s -> %s", it.State, target)},
		})
	}

	switch target {
	case domain.StateActionable:
		return e.gateActionable(ctx, it, payload, actor, opts)
	case domain.StateDone:
		return e.gateDone(ctx, it, actor, opts)
	case domain.StateSnoozed:
		return e.applySnoozed(ctx, it, payload, actor, opts)
	case domain.StateWaiting:
		return e.applyWaiting(ctx, it, payload, actor, opts)
	default:
		return e.applyDirect(ctx, it, target, payload, actor, opts)
	}
}

// reject appends a rejected audit row in its own transaction and returns gerr.
// Used when the rejection carries no other mutation.
func (e Engine) reject(ctx context.Context, it domain.Item, target, actor string, opts TransitionOptions, gerr *GateError) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        it.State,
		ToStateAttempted: target,
		Decision:         audit.DecisionRejected,
		Actor:            actor,
		Reasons:          gerr.Reasons,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return gerr
}

// gateActionable is the entry gate into ACTIONABLE. A rule or verifier
// rejection still persists the task fields but lands the item in CLARIFYING so
// the work is kept while the action text gets sharpened.
func (e Engine) gateActionable(ctx context.Context, it domain.Item, payload TransitionPayload, actor string, opts TransitionOptions) (TransitionResult, error) {
	existing, err := e.Repo.GetTaskByItem(ctx, it.ID)
	hasTask := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return TransitionResult{Item: it}, err
	}
	actionText := strings.TrimSpace(payload.ActionText)
	if actionText == "" && hasTask {
		actionText = strings.TrimSpace(existing.ActionText)
	}
	if actionText == "" {
		return TransitionResult{Item: it}, e.reject(ctx, it, domain.StateActionable, actor, opts, &GateError{
			Code:          "missing_actionText",
			Reasons:       []string{"missing_actionText"},
			Failures:      []verifier.Failure{{Code: "MISSING", Severity: "high", Message: "actionText is required"}},
			MissingInputs: []string{"actionText"},
		})
	}
	payload.ActionText = actionText

	if !opts.Force {
		if ok, reason := rules.CheckNextAction(actionText); !ok {
			res, err := e.applyActionable(ctx, it, existing, hasTask, payload, domain.StateClarifying, actor, opts,
				audit.DecisionRejected, []string{"deterministic_fail", reason})
			if err != nil {
				return res, err
			}
			return res, &GateError{
				Code:     "deterministic_fail",
				Reasons:  []string{reason},
				Failures: []verifier.Failure{{Code: "VAGUE", Severity: "high", Message: reason, FieldRef: "actionText"}},
			}
		}
		out := e.Verify.VerifyNextAction(ctx, actionText)
		if out.Status != verifier.StatusPass {
			code := "verifier_" + strings.ToLower(out.Status)
			reasons := []string{code}
			for _, f := range out.Failures {
				reasons = append(reasons, f.Code)
			}
			res, err := e.applyActionable(ctx, it, existing, hasTask, payload, domain.StateClarifying, actor, opts,
				audit.DecisionRejected, reasons)
			if err != nil {
				return res, err
			}
			return res, &GateError{
				Code:           code,
				Reasons:        reasons[1:],
				Failures:       out.Failures,
				MissingInputs:  out.MissingInputs,
				VaguenessFlags: out.VaguenessFlags,
			}
		}
	}
	return e.applyActionable(ctx, it, existing, hasTask, payload, domain.StateActionable, actor, opts,
		audit.DecisionApproved, nil)
}

// applyActionable upserts the task and moves the item, committing the audit
// row in the same transaction. newState is ACTIONABLE on approval and
// CLARIFYING on the downgrade path.
func (e Engine) applyActionable(ctx context.Context, it domain.Item, existing domain.Task, hasTask bool, payload TransitionPayload, newState, actor string, opts TransitionOptions, decision string, reasons []string) (TransitionResult, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{Item: it}, err
	}
	defer tx.Rollback()

	t := existing
	if !hasTask {
		t = domain.Task{
			ID:        uuid.New().String(),
			ItemID:    it.ID,
			Priority:  5,
			Status:    "open",
			CreatedAt: now,
		}
	}
	t.ActionText = payload.ActionText
	if payload.Context != "" {
		t.Context = payload.Context
	}
	if payload.Energy != "" {
		t.Energy = payload.Energy
	}
	if payload.EstimatedMinutes != nil {
		t.EstimatedMinutes = payload.EstimatedMinutes
	}
	if payload.DueDate != nil {
		t.DueDate = payload.DueDate
	}
	if payload.ProjectID != nil {
		t.ProjectID = payload.ProjectID
	}
	if newState == domain.StateActionable {
		t.SnoozedUntil = nil
	}
	t.UpdatedAt = now
	if hasTask {
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return TransitionResult{Item: it}, err
		}
	} else {
		if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
			return TransitionResult{Item: it}, err
		}
	}

	fromState := it.State
	it.Type = "task"
	it.State = newState
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return TransitionResult{Item: it}, err
	}
	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: domain.StateActionable,
		Decision:         decision,
		Actor:            actor,
		Reasons:          reasons,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return TransitionResult{Item: it}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{Item: it}, err
	}
	return TransitionResult{Item: it, Task: &t}, nil
}

// gateDone is the completion gate. It demands evidence and a passing
// completion verdict, then closes the task and releases any project
// next-action link so the caller can prompt for the next one.
func (e Engine) gateDone(ctx context.Context, it domain.Item, actor string, opts TransitionOptions) (TransitionResult, error) {
	t, err := e.Repo.GetTaskByItem(ctx, it.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return TransitionResult{Item: it}, e.reject(ctx, it, domain.StateDone, actor, opts,
			&GateError{Code: "no_task", Reasons: []string{"no_task"}})
	}
	if err != nil {
		return TransitionResult{Item: it}, err
	}

	if !opts.Force {
		has, err := e.Repo.HasEvidence(ctx, it.ID)
		if err != nil {
			return TransitionResult{Item: it}, err
		}
		if !has {
			return TransitionResult{Item: it}, e.reject(ctx, it, domain.StateDone, actor, opts,
				&GateError{Code: "no_evidence", Reasons: []string{"no_evidence"}})
		}
		var ev *verifier.Evidence
		if latest, err := e.Repo.LatestEvidence(ctx, it.ID); err == nil {
			ev = &verifier.Evidence{
				ArtifactType: latest.ArtifactType,
				Content:      latest.Content,
				FilePointer:  latest.FilePointer,
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return TransitionResult{Item: it}, err
		}
		out := e.Verify.VerifyCompletion(ctx, it.Title, t.ActionText, ev)
		if out.Status != verifier.StatusPass {
			code := "verifier_" + strings.ToLower(out.Status)
			reasons := []string{code}
			for _, f := range out.Failures {
				reasons = append(reasons, f.Code)
			}
			return TransitionResult{Item: it}, e.reject(ctx, it, domain.StateDone, actor, opts, &GateError{
				Code:          code,
				Reasons:       reasons,
				Failures:      out.Failures,
				MissingInputs: out.MissingInputs,
			})
		}
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{Item: it}, err
	}
	defer tx.Rollback()

	fromState := it.State
	it.State = domain.StateDone
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return TransitionResult{Item: it}, err
	}
	t.Status = "done"
	t.CompletedAt = &now
	t.Unverified = opts.Force
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return TransitionResult{Item: it}, err
	}

	// completing a designated next action releases the project link and asks
	// for a new one; any other project task just counts as progress
	res := TransitionResult{Item: it, Task: &t}
	p, err := e.Repo.GetProjectByNextActionTaskTx(ctx, tx, t.ID)
	switch {
	case err == nil:
		p.NextActionTaskID = nil
		p.LastProgressAt = &now
		p.UpdatedAt = now
		if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
			return res, err
		}
		res.ProjectID = &p.ID
		res.NextActionRequired = true
	case !errors.Is(err, repo.ErrNotFound):
		return res, err
	case t.ProjectID != nil:
		owner, err := e.Repo.GetProjectTx(ctx, tx, *t.ProjectID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		if err == nil {
			owner.LastProgressAt = &now
			owner.UpdatedAt = now
			if err := e.Repo.UpdateProjectTx(ctx, tx, owner); err != nil {
				return res, err
			}
		}
	}

	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: domain.StateDone,
		Decision:         audit.DecisionApproved,
		Actor:            actor,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func (e Engine) applySnoozed(ctx context.Context, it domain.Item, payload TransitionPayload, actor string, opts TransitionOptions) (TransitionResult, error) {
	until := payload.SnoozedUntil
	if until == nil || strings.TrimSpace(*until) == "" {
		if !opts.Force {
			return TransitionResult{Item: it}, e.reject(ctx, it, domain.StateSnoozed, actor, opts, &GateError{
				Code:          "missing_snoozedUntil",
				Reasons:       []string{"missing_snoozedUntil"},
				MissingInputs: []string{"snoozedUntil"},
			})
		}
		def := e.now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
		until = &def
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{Item: it}, err
	}
	defer tx.Rollback()

	fromState := it.State
	it.State = domain.StateSnoozed
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return TransitionResult{Item: it}, err
	}
	res := TransitionResult{Item: it}
	t, err := e.Repo.GetTaskByItemTx(ctx, tx, it.ID)
	if err == nil {
		t.SnoozedUntil = until
		t.UpdatedAt = now
		if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
			return res, err
		}
		res.Task = &t
		if err := e.syncProjectForNextActionTask(ctx, tx, t.ID, domain.StateSnoozed, now); err != nil {
			return res, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return res, err
	}

	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: domain.StateSnoozed,
		Decision:         audit.DecisionApproved,
		Actor:            actor,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func (e Engine) applyWaiting(ctx context.Context, it domain.Item, payload TransitionPayload, actor string, opts TransitionOptions) (TransitionResult, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{Item: it}, err
	}
	defer tx.Rollback()

	fromState := it.State
	it.State = domain.StateWaiting
	if payload.itemType != "" {
		it.Type = payload.itemType
	}
	if payload.WaitingOn != nil {
		it.WaitingOn = payload.WaitingOn
	}
	if it.WaitingSince == nil {
		since := now
		it.WaitingSince = &since
	}
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return TransitionResult{Item: it}, err
	}
	res := TransitionResult{Item: it}

	if payload.FollowUpAt != nil && strings.TrimSpace(*payload.FollowUpAt) != "" {
		if err := e.Repo.UpsertReminderTx(ctx, tx, domain.Reminder{
			ID:        uuid.New().String(),
			ItemID:    it.ID,
			Kind:      "follow_up",
			DueAt:     *payload.FollowUpAt,
			CreatedAt: now,
		}); err != nil {
			return res, err
		}
	}

	t, err := e.Repo.GetTaskByItemTx(ctx, tx, it.ID)
	if err == nil {
		res.Task = &t
		if err := e.syncProjectForNextActionTask(ctx, tx, t.ID, domain.StateWaiting, now); err != nil {
			return res, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return res, err
	}

	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: domain.StateWaiting,
		Decision:         audit.DecisionApproved,
		Actor:            actor,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// applyDirect handles targets with no gate of their own. Leaving the
// actionable loop still syncs any project whose next action this item backs.
func (e Engine) applyDirect(ctx context.Context, it domain.Item, target string, payload TransitionPayload, actor string, opts TransitionOptions) (TransitionResult, error) {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{Item: it}, err
	}
	defer tx.Rollback()

	fromState := it.State
	it.State = target
	if payload.itemType != "" {
		it.Type = payload.itemType
	}
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return TransitionResult{Item: it}, err
	}
	res := TransitionResult{Item: it}

	switch target {
	case domain.StateClarifying, domain.StateArchived, domain.StateReference, domain.StateSomeday:
		t, err := e.Repo.GetTaskByItemTx(ctx, tx, it.ID)
		if err == nil {
			res.Task = &t
			if err := e.syncProjectForNextActionTask(ctx, tx, t.ID, target, now); err != nil {
				return res, err
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
	}

	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: target,
		Decision:         audit.DecisionApproved,
		Actor:            actor,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

// Capture creates a raw inbox item.
func (e Engine) Capture(ctx context.Context, title, body, source string) (domain.Item, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Item{}, errors.New("title is required")
	}
	now := e.nowStr()
	it := domain.Item{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(title),
		Body:      body,
		Type:      "inbox",
		State:     domain.StateInbox,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertItem(ctx, it); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// Disposition routes a clarified item to its destination. Every disposition
// except project goes through ExecuteTransition so the gates apply; project
// creates the container inline because PROJECT has no entry gate.
func (e Engine) Disposition(ctx context.Context, itemID, disposition string, payload TransitionPayload, actor string, opts TransitionOptions) (TransitionResult, error) {
	d, err := rules.ParseDisposition(disposition)
	if err != nil {
		return TransitionResult{}, err
	}
	itemType, target := rules.DispositionTarget(d)
	if d != rules.DispositionProject {
		payload.itemType = itemType
		return e.ExecuteTransition(ctx, itemID, target, payload, actor, opts)
	}

	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !rules.ItemTransitionAllowed(it.State, domain.StateProject) && !opts.Force {
		return TransitionResult{Item: it}, e.reject(ctx, it, domain.StateProject, actor, opts, &GateError{
			Code:    "transition_not_allowed",
			Reasons: []string{fmt.Sprintf("transition_not_allowed: %s -> %s", it.State, domain.StateProject)},
		})
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{Item: it}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:               uuid.New().String(),
		ItemID:           &it.ID,
		OutcomeStatement: it.Title,
		Status:           domain.ProjectClarifying,
		Priority:         5,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return TransitionResult{Item: it}, err
	}
	fromState := it.State
	it.Type = "project"
	it.State = domain.StateProject
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return TransitionResult{Item: it}, err
	}
	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: domain.StateProject,
		Decision:         audit.DecisionApproved,
		Actor:            actor,
		Override:         opts.Force,
		OverrideReason:   opts.OverrideReason,
	}); err != nil {
		return TransitionResult{Item: it}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{Item: it}, err
	}
	return TransitionResult{Item: it, ProjectID: &p.ID}, nil
}

// WakeSnoozedTasks flips snoozed items whose wake time has arrived back to
// ACTIONABLE. Returns how many items woke. Runs before ranking and on demand.
func (e Engine) WakeSnoozedTasks(ctx context.Context) (int, error) {
	due, err := e.Repo.SnoozedDue(ctx, e.nowStr())
	if err != nil {
		return 0, err
	}
	woken := 0
	for _, t := range due {
		it, err := e.Repo.GetItem(ctx, t.ItemID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return woken, err
		}
		if err := e.wakeOne(ctx, it, t); err != nil {
			return woken, err
		}
		woken++
	}
	return woken, nil
}

func (e Engine) wakeOne(ctx context.Context, it domain.Item, t domain.Task) error {
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fromState := it.State
	it.State = domain.StateActionable
	it.UpdatedAt = now
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return err
	}
	t.SnoozedUntil = nil
	t.UpdatedAt = now
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, audit.Entry{
		ItemID:           it.ID,
		FromState:        fromState,
		ToStateAttempted: domain.StateActionable,
		Decision:         audit.DecisionApproved,
		Actor:            "system",
		Reasons:          []string{"snooze_elapsed"},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

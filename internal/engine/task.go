package engine

import (
	"context"

	"nextaction/internal/domain"
)

// TaskPatch edits task metadata outside the state machine. Nil pointers leave
// fields alone; the Clear flags null them out, which is how the API maps an
// explicit JSON null.
type TaskPatch struct {
	ActionText       *string
	Context          *string
	Energy           *string
	EstimatedMinutes *int
	ClearEstimate    bool
	DueDate          *string
	ClearDueDate     bool
	SnoozedUntil     *string
	ClearSnooze      bool
	PinnedOrder      *int
	ClearPinned      bool
	ManualRank       *int
	ClearManualRank  bool
	Priority         *int
	ProjectID        *string
	ClearProject     bool
}

// UpdateTask applies metadata edits. State changes go through
// ExecuteTransition; this only touches scheduling and ranking fields.
func (e Engine) UpdateTask(ctx context.Context, id string, patch TaskPatch) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if patch.ActionText != nil {
		t.ActionText = *patch.ActionText
	}
	if patch.Context != nil {
		t.Context = *patch.Context
	}
	if patch.Energy != nil {
		t.Energy = *patch.Energy
	}
	switch {
	case patch.ClearEstimate:
		t.EstimatedMinutes = nil
	case patch.EstimatedMinutes != nil:
		t.EstimatedMinutes = patch.EstimatedMinutes
	}
	switch {
	case patch.ClearDueDate:
		t.DueDate = nil
	case patch.DueDate != nil:
		t.DueDate = patch.DueDate
	}
	switch {
	case patch.ClearSnooze:
		t.SnoozedUntil = nil
	case patch.SnoozedUntil != nil:
		t.SnoozedUntil = patch.SnoozedUntil
	}
	switch {
	case patch.ClearPinned:
		t.PinnedOrder = nil
	case patch.PinnedOrder != nil:
		t.PinnedOrder = patch.PinnedOrder
	}
	switch {
	case patch.ClearManualRank:
		t.ManualRank = nil
	case patch.ManualRank != nil:
		t.ManualRank = patch.ManualRank
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	switch {
	case patch.ClearProject:
		t.ProjectID = nil
	case patch.ProjectID != nil:
		if _, err := e.Repo.GetProject(ctx, *patch.ProjectID); err != nil {
			return t, err
		}
		t.ProjectID = patch.ProjectID
	}
	t.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// UpdateItem edits an item's title and body without touching its state.
func (e Engine) UpdateItem(ctx context.Context, id string, title, body *string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if err != nil {
		return it, err
	}
	if title != nil && *title != "" {
		it.Title = *title
	}
	if body != nil {
		it.Body = *body
	}
	it.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemTx(ctx, tx, it); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

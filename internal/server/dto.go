package server

import (
	"nextaction/internal/domain"
	"nextaction/internal/engine"
	"nextaction/internal/ranking"
)

type CaptureRequest struct {
	Title  string `json:"title" minLength:"1" example:"Call the dentist"`
	Body   string `json:"body,omitempty"`
	Source string `json:"source,omitempty" example:"cli"`
}

type ItemPatchRequest struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

// TransitionFields are the task fields a disposition or transition may carry.
type TransitionFields struct {
	ActionText       string  `json:"action_text,omitempty"`
	Context          string  `json:"context,omitempty" enum:",calls,errands,computer,deep_work"`
	Energy           string  `json:"energy,omitempty" enum:",low,medium,high"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	DueDate          *string `json:"due_date,omitempty" format:"date-time"`
	SnoozedUntil     *string `json:"snoozed_until,omitempty" format:"date-time"`
	ProjectID        *string `json:"project_id,omitempty"`
	WaitingOn        *string `json:"waiting_on,omitempty"`
	FollowUpAt       *string `json:"follow_up_at,omitempty" format:"date-time"`
}

func (f TransitionFields) payload() engine.TransitionPayload {
	return engine.TransitionPayload{
		ActionText:       f.ActionText,
		Context:          f.Context,
		Energy:           f.Energy,
		EstimatedMinutes: f.EstimatedMinutes,
		DueDate:          f.DueDate,
		SnoozedUntil:     f.SnoozedUntil,
		ProjectID:        f.ProjectID,
		WaitingOn:        f.WaitingOn,
		FollowUpAt:       f.FollowUpAt,
	}
}

type ForceFields struct {
	Force          bool   `json:"force,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
}

func (f ForceFields) options() engine.TransitionOptions {
	return engine.TransitionOptions{Force: f.Force, OverrideReason: f.OverrideReason}
}

type DispositionRequest struct {
	Disposition string `json:"disposition" enum:"next_action,project,waiting,someday,reference,trash"`
	TransitionFields
	ForceFields
}

type TransitionRequest struct {
	Target string `json:"target" enum:"INBOX,CLARIFYING,ACTIONABLE,PROJECT,WAITING,SNOOZED,SOMEDAY,REFERENCE,DONE,ARCHIVED"`
	TransitionFields
	ForceFields
}

type TaskPatchRequest struct {
	ActionText       *string `json:"action_text,omitempty"`
	Context          *string `json:"context,omitempty"`
	Energy           *string `json:"energy,omitempty"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	SnoozedUntil     *string `json:"snoozed_until,omitempty"`
	PinnedOrder      *int    `json:"pinned_order,omitempty"`
	ManualRank       *int    `json:"manual_rank,omitempty"`
	Priority         *int    `json:"priority,omitempty" minimum:"0" maximum:"10"`
	ProjectID        *string `json:"project_id,omitempty"`
}

type CreateProjectRequest struct {
	OutcomeStatement string  `json:"outcome_statement" minLength:"1"`
	DueDate          *string `json:"due_date,omitempty" format:"date-time"`
	Priority         *int    `json:"priority,omitempty" minimum:"0" maximum:"10"`
	FocusThisWeek    bool    `json:"focus_this_week,omitempty"`
	ThemeTag         *string `json:"theme_tag,omitempty"`
}

type ProjectPatchRequest struct {
	OutcomeStatement *string `json:"outcome_statement,omitempty"`
	NextActionTaskID *string `json:"next_action_task_id,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	Priority         *int    `json:"priority,omitempty" minimum:"0" maximum:"10"`
	FocusThisWeek    *bool   `json:"focus_this_week,omitempty"`
	ThemeTag         *string `json:"theme_tag,omitempty"`
	WaitingOn        *string `json:"waiting_on,omitempty"`
	ForceFields
}

type SetProjectStatusRequest struct {
	Status string `json:"status" enum:"CLARIFYING,ACTIVE,WAITING,ON_HOLD,SOMEDAY,DONE,ARCHIVED"`
	ForceFields
}

type CreateArtifactRequest struct {
	ArtifactType string  `json:"artifact_type" enum:"draft,email,decision,note,file"`
	Content      *string `json:"content,omitempty"`
	FilePointer  *string `json:"file_pointer,omitempty"`
}

type paginatedItems struct {
	Items      []domain.Item `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []domain.AuditEntry `json:"items"`
	NextCursor int64               `json:"next_cursor,omitempty"`
}

type WakeResponse struct {
	Woke int `json:"woke"`
}

type NowResponse struct {
	Woke     int                `json:"woke"`
	Ranked   []ranking.Ranked   `json:"ranked"`
	Excluded []ranking.Excluded `json:"excluded"`
}

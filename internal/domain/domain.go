package domain

// Item lifecycle states.
const (
	StateInbox      = "INBOX"
	StateClarifying = "CLARIFYING"
	StateActionable = "ACTIONABLE"
	StateProject    = "PROJECT"
	StateWaiting    = "WAITING"
	StateSnoozed    = "SNOOZED"
	StateSomeday    = "SOMEDAY"
	StateReference  = "REFERENCE"
	StateDone       = "DONE"
	StateArchived   = "ARCHIVED"
)

// Project statuses.
const (
	ProjectClarifying = "CLARIFYING"
	ProjectActive     = "ACTIVE"
	ProjectWaiting    = "WAITING"
	ProjectOnHold     = "ON_HOLD"
	ProjectSomeday    = "SOMEDAY"
	ProjectDone       = "DONE"
	ProjectArchived   = "ARCHIVED"
)

type Item struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Body         string  `json:"body,omitempty"`
	Type         string  `json:"type" enum:"inbox,task,project,waiting,someday,reference,trash"`
	State        string  `json:"state" enum:"INBOX,CLARIFYING,ACTIONABLE,PROJECT,WAITING,SNOOZED,SOMEDAY,REFERENCE,DONE,ARCHIVED"`
	Source       string  `json:"source,omitempty"`
	WaitingOn    *string `json:"waiting_on,omitempty"`
	WaitingSince *string `json:"waiting_since,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID               string  `json:"id"`
	ItemID           string  `json:"item_id"`
	ProjectID        *string `json:"project_id,omitempty"`
	ActionText       string  `json:"action_text"`
	Context          string  `json:"context,omitempty" enum:",calls,errands,computer,deep_work"`
	Energy           string  `json:"energy,omitempty" enum:",low,medium,high"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	DueDate          *string `json:"due_date,omitempty" format:"date-time"`
	SnoozedUntil     *string `json:"snoozed_until,omitempty" format:"date-time"`
	PinnedOrder      *int    `json:"pinned_order,omitempty"`
	ManualRank       *int    `json:"manual_rank,omitempty"`
	Priority         int     `json:"priority"`
	Status           string  `json:"status" enum:"open,done"`
	Unverified       bool    `json:"unverified"`
	CompletedAt      *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type Project struct {
	ID               string  `json:"id"`
	ItemID           *string `json:"item_id,omitempty"`
	OutcomeStatement string  `json:"outcome_statement"`
	Status           string  `json:"status" enum:"CLARIFYING,ACTIVE,WAITING,ON_HOLD,SOMEDAY,DONE,ARCHIVED"`
	NextActionTaskID *string `json:"next_action_task_id,omitempty"`
	DueDate          *string `json:"due_date,omitempty" format:"date-time"`
	Priority         int     `json:"priority"`
	FocusThisWeek    bool    `json:"focus_this_week"`
	LastProgressAt   *string `json:"last_progress_at,omitempty" format:"date-time"`
	ThemeTag         *string `json:"theme_tag,omitempty"`
	WaitingOn        *string `json:"waiting_on,omitempty"`
	WaitingSince     *string `json:"waiting_since,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type Reminder struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	Kind      string `json:"kind" enum:"follow_up"`
	DueAt     string `json:"due_at" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Artifact struct {
	ID           string  `json:"id"`
	ItemID       string  `json:"item_id"`
	ArtifactType string  `json:"artifact_type" enum:"draft,email,decision,note,file"`
	Content      *string `json:"content,omitempty"`
	FilePointer  *string `json:"file_pointer,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// AuditEntry is one row of the append-only transition log.
type AuditEntry struct {
	ID               int64    `json:"id"`
	ItemID           string   `json:"item_id"`
	FromState        string   `json:"from_state"`
	ToStateAttempted string   `json:"to_state_attempted"`
	Decision         string   `json:"decision" enum:"approved,rejected"`
	Actor            string   `json:"actor"`
	Reasons          []string `json:"reasons,omitempty"`
	Override         bool     `json:"override"`
	OverrideReason   *string  `json:"override_reason,omitempty"`
	TS               string   `json:"ts" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EvidenceArtifactTypes are the artifact types the done gate accepts as evidence.
var EvidenceArtifactTypes = []string{"draft", "email", "decision", "note", "file"}

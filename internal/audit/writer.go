package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Decisions recorded per transition attempt.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Writer appends transition records. Append always runs inside the caller's
// transaction so the audit row commits or rolls back with the mutation it
// describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Entry struct {
	ItemID           string
	FromState        string
	ToStateAttempted string
	Decision         string
	Actor            string
	Reasons          []string
	Override         bool
	OverrideReason   string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	reasons := e.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	data, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshal audit reasons: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO transition_audit_log(item_id,from_state,to_state_attempted,decision,actor,reasons_json,override,override_reason,ts)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ItemID, e.FromState, e.ToStateAttempted, e.Decision, e.Actor, string(data), boolInt(e.Override), nullable(e.OverrideReason), ts)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

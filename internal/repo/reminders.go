package repo

import (
	"context"
	"database/sql"

	"nextaction/internal/domain"
)

const reminderColumns = `id,item_id,kind,due_at,created_at`

// UpsertReminderTx keeps at most one reminder per item and kind, replacing the
// due time on conflict.
func (r Repo) UpsertReminderTx(ctx context.Context, tx *sql.Tx, rem domain.Reminder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reminders(`+reminderColumns+`) VALUES (?,?,?,?,?)
ON CONFLICT(item_id, kind) DO UPDATE SET due_at=excluded.due_at`,
		rem.ID, rem.ItemID, rem.Kind, rem.DueAt, rem.CreatedAt)
	return err
}

func (r Repo) DeleteReminderTx(ctx context.Context, tx *sql.Tx, itemID, kind string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE item_id=? AND kind=?`, itemID, kind)
	return err
}

// DueReminders returns reminders whose due time has passed, oldest first.
func (r Repo) DueReminders(ctx context.Context, now string) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE due_at<=? ORDER BY due_at ASC, id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		if err := rows.Scan(&rem.ID, &rem.ItemID, &rem.Kind, &rem.DueAt, &rem.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}

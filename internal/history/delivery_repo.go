package history

import (
	"context"
	"database/sql"
	"fmt"
)

// DeliveryRepo records and queries orchestration-router deliveries.
type DeliveryRepo struct {
	db *sql.DB
}

func NewDeliveryRepo(db *sql.DB) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// Record inserts one delivery attempt. A NoRecipients send is recorded
// with RecipientSession empty and Delivered false so the audit trail shows
// the send was attempted even though nothing received it.
func (r *DeliveryRepo) Record(ctx context.Context, d *Delivery) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("history: delivery repo unavailable")
	}
	if d == nil {
		return fmt.Errorf("history: delivery is required")
	}
	if d.MsgType == "" {
		return fmt.Errorf("history: msg type is required")
	}
	if d.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		d.ID = id
	}
	if d.CreatedAt == "" {
		d.CreatedAt = formatTimestamp(nowUTC())
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO deliveries (id, from_session, target_kind, target_value, msg_type, recipient_session, delivered, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, d.ID, d.FromSession, d.TargetKind, d.TargetValue, d.MsgType, d.RecipientSession, boolToInt(d.Delivered), d.Error, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("history: insert delivery: %w", err)
	}
	return nil
}

// ListByRecipient returns the most recent deliveries to a recipient
// session, oldest first, capped at limit (default 50).
func (r *DeliveryRepo) ListByRecipient(ctx context.Context, sessionID string, limit int) ([]*Delivery, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("history: delivery repo unavailable")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("history: session id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, from_session, target_kind, target_value, msg_type, recipient_session, delivered, error, created_at
FROM deliveries
WHERE recipient_session = ?
ORDER BY created_at DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list deliveries: %w", err)
	}
	defer rows.Close()

	items := make([]*Delivery, 0)
	for rows.Next() {
		d := &Delivery{}
		var delivered int
		if err := rows.Scan(&d.ID, &d.FromSession, &d.TargetKind, &d.TargetValue, &d.MsgType, &d.RecipientSession, &delivered, &d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan delivery: %w", err)
		}
		d.Delivered = delivered != 0
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate deliveries: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Prune deletes sessionID's delivery rows beyond its most recent `keep`
// (default 50), bounding the audit trail's size. Other recipients' rows
// are untouched.
func (r *DeliveryRepo) Prune(ctx context.Context, sessionID string, keep int) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("history: delivery repo unavailable")
	}
	if sessionID == "" {
		return fmt.Errorf("history: session id is required")
	}
	if keep <= 0 {
		keep = 50
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM deliveries
WHERE recipient_session = ?
  AND id NOT IN (
    SELECT id FROM deliveries
    WHERE recipient_session = ?
    ORDER BY created_at DESC
    LIMIT ?
  )
`, sessionID, sessionID, keep)
	if err != nil {
		return fmt.Errorf("history: prune deliveries: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

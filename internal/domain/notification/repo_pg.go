package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayursutra/ayursutra/internal/platform/db"
)

// =========== Notification Repository ===========

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const notificationCols = `id, recipient_id, sender_id, type, title, message, link, read_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Type, &n.Title, &n.Message, &n.Link,
		&n.ReadAt, &n.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.Read = n.ReadAt != nil
	return &n, nil
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, recipient_id, sender_id, type, title, message, link)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		n.ID, n.RecipientID, n.SenderID, n.Type, n.Title, n.Message, n.Link,
	).Scan(&n.CreatedAt)
}

func (r *notificationRepoPG) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE recipient_id = $1`
	if unreadOnly {
		where += ` AND read_at IS NULL`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM notifications`+where, recipientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+notificationCols+` FROM notifications`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		recipientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *notificationRepoPG) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL`, recipientID).Scan(&n)
	return n, err
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, id uuid.UUID, recipientID string) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationCols, id, recipientID))
}

func (r *notificationRepoPG) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET read_at = NOW() WHERE recipient_id = $1 AND read_at IS NULL`, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepoPG) Delete(ctx context.Context, id uuid.UUID, recipientID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Device Repository ===========

type deviceRepoPG struct{ pool *pgxpool.Pool }

func NewDeviceRepoPG(pool *pgxpool.Pool) DeviceRepository {
	return &deviceRepoPG{pool: pool}
}

func (r *deviceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *deviceRepoPG) Upsert(ctx context.Context, d *Device) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO push_devices (id, ayursutra_id, token, platform)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (token) DO UPDATE SET
			ayursutra_id = EXCLUDED.ayursutra_id, platform = EXCLUDED.platform, last_seen_at = NOW()
		RETURNING id, created_at, last_seen_at`,
		uuid.New(), d.AyurSutraID, d.Token, d.Platform,
	).Scan(&d.ID, &d.CreatedAt, &d.LastSeenAt)
}

func (r *deviceRepoPG) Delete(ctx context.Context, ayurSutraID, token string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM push_devices WHERE ayursutra_id = $1 AND token = $2`, ayurSutraID, token)
	return err
}

func (r *deviceRepoPG) Tokens(ctx context.Context, ayurSutraID string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT token FROM push_devices WHERE ayursutra_id = $1 ORDER BY last_seen_at DESC`, ayurSutraID)
	if err != nil {
		return nil, err
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect tokens: %w", err)
	}
	return tokens, nil
}

func (r *deviceRepoPG) DeleteTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM push_devices WHERE token = ANY($1)`, tokens)
	return err
}

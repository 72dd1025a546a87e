package waitlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psicore/psicore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, patient_id, administrator_id, scale_id, recipient, priority,
	preferred_windows, status, requested_at, offered_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var windows []byte
	err := row.Scan(&e.ID, &e.PatientID, &e.AdministratorID, &e.ScaleID, &e.Recipient,
		&e.Priority, &windows, &e.Status, &e.RequestedAt, &e.OfferedAt)
	if err != nil {
		return nil, err
	}
	if len(windows) > 0 {
		if err := json.Unmarshal(windows, &e.PreferredWindows); err != nil {
			return nil, fmt.Errorf("unmarshal preferred windows: %w", err)
		}
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RequestedAt.IsZero() {
		e.RequestedAt = time.Now().UTC()
	}
	windows, err := json.Marshal(e.PreferredWindows)
	if err != nil {
		return fmt.Errorf("marshal preferred windows: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO waitlist_entry (id, patient_id, administrator_id, scale_id, recipient,
			priority, preferred_windows, status, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.PatientID, e.AdministratorID, e.ScaleID, e.Recipient,
		e.Priority, windows, e.Status, e.RequestedAt)
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM waitlist_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

func (r *repoPG) ListWaiting(ctx context.Context, scaleID string) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM waitlist_entry
		WHERE scale_id = $1 AND status = 'waiting'
		ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
		         requested_at ASC`, scaleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) MarkOffered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist_entry SET status = 'offered', offered_at = NOW()
		WHERE id = $1 AND status = 'waiting'`, id)
	return tag.RowsAffected() > 0, err
}

func (r *repoPG) Withdraw(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist_entry SET status = 'withdrawn'
		WHERE id = $1 AND status = 'waiting'`, id)
	return tag.RowsAffected() > 0, err
}

package invitation

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

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const invCols = `id, token, scale_id, scale_version, patient_id, administrator_id, recipient,
	status, delivery_method, custom_message, created_at, expires_at,
	reminder_6h_sent, reminder_2h_sent, reminder_30m_sent, reminder_count,
	completed_at, score_raw, score_max, interpretation, slot_id`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Token, &inv.ScaleID, &inv.ScaleVersion,
		&inv.PatientID, &inv.AdministratorID, &inv.Recipient,
		&inv.Status, &inv.DeliveryMethod, &inv.CustomMessage,
		&inv.CreatedAt, &inv.ExpiresAt,
		&inv.Reminder6hSent, &inv.Reminder2hSent, &inv.Reminder30mSent, &inv.ReminderCount,
		&inv.CompletedAt, &inv.ScoreRaw, &inv.ScoreMax, &inv.Interpretation, &inv.SlotID)
	return &inv, err
}

func (s *storePG) Create(ctx context.Context, inv *Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO remote_invitation (id, token, scale_id, scale_version, patient_id,
			administrator_id, recipient, status, delivery_method, custom_message,
			created_at, expires_at, slot_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		inv.ID, inv.Token, inv.ScaleID, inv.ScaleVersion, inv.PatientID,
		inv.AdministratorID, inv.Recipient, inv.Status, inv.DeliveryMethod,
		inv.CustomMessage, inv.CreatedAt, inv.ExpiresAt, inv.SlotID)
	return err
}

func (s *storePG) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	inv, err := scanInvitation(s.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM remote_invitation WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return inv, err
}

func (s *storePG) GetByID(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	inv, err := scanInvitation(s.conn(ctx).QueryRow(ctx,
		`SELECT `+invCols+` FROM remote_invitation WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return inv, err
}

func (s *storePG) ListByAdministrator(ctx context.Context, administratorID uuid.UUID, limit, offset int) ([]*Invitation, int, error) {
	var total int
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM remote_invitation WHERE administrator_id = $1`,
		administratorID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+invCols+` FROM remote_invitation WHERE administrator_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		administratorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	invs, err := collectInvitations(rows)
	if err != nil {
		return nil, 0, err
	}
	return invs, total, nil
}

func (s *storePG) ListActive(ctx context.Context) ([]*Invitation, error) {
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+invCols+` FROM remote_invitation
		 WHERE status IN ('pending','accessed','in_progress') ORDER BY expires_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvitations(rows)
}

func collectInvitations(rows pgx.Rows) ([]*Invitation, error) {
	var out []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *storePG) MarkAccessed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE remote_invitation SET status = 'accessed'
		WHERE id = $1 AND status = 'pending'`, id)
	return tag.RowsAffected() > 0, err
}

func (s *storePG) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE remote_invitation SET status = 'in_progress'
		WHERE id = $1 AND status = 'accessed'`, id)
	return tag.RowsAffected() > 0, err
}

func (s *storePG) Complete(ctx context.Context, id uuid.UUID, summary ResultSummary, at time.Time) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE remote_invitation
		SET status = 'completed', completed_at = $2, score_raw = $3, score_max = $4, interpretation = $5
		WHERE id = $1 AND status IN ('accessed','in_progress') AND expires_at > $2`,
		id, at, summary.Raw, summary.Max, summary.Interpretation)
	return tag.RowsAffected() > 0, err
}

func (s *storePG) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE remote_invitation SET status = 'expired'
		WHERE id = $1 AND status IN ('pending','accessed','in_progress')`, id)
	return tag.RowsAffected() > 0, err
}

func (s *storePG) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE remote_invitation SET status = 'cancelled'
		WHERE id = $1 AND status IN ('pending','accessed','in_progress')`, id)
	return tag.RowsAffected() > 0, err
}

func (s *storePG) ClaimReminder(ctx context.Context, id uuid.UUID, stage ReminderStage) (bool, error) {
	col, ok := reminderColumn(stage)
	if !ok {
		return false, fmt.Errorf("unknown reminder stage %q", stage)
	}
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE remote_invitation
		SET `+col+` = TRUE, reminder_count = reminder_count + 1
		WHERE id = $1 AND `+col+` = FALSE
		  AND status IN ('pending','accessed','in_progress')`, id)
	return tag.RowsAffected() > 0, err
}

// reminderColumn maps a stage to its flag column. The column name is
// chosen from constants, never from request input.
func reminderColumn(stage ReminderStage) (string, bool) {
	switch stage {
	case Stage6h:
		return "reminder_6h_sent", true
	case Stage2h:
		return "reminder_2h_sent", true
	case Stage30m:
		return "reminder_30m_sent", true
	}
	return "", false
}

func (s *storePG) SaveProgress(ctx context.Context, snap *ProgressSnapshot) error {
	responses, err := json.Marshal(snap.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO invitation_progress (invitation_id, responses, current_item_index, percentage_complete, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (invitation_id) DO UPDATE
		SET responses = EXCLUDED.responses,
		    current_item_index = EXCLUDED.current_item_index,
		    percentage_complete = EXCLUDED.percentage_complete,
		    updated_at = EXCLUDED.updated_at`,
		snap.InvitationID, responses, snap.CurrentItemIndex, snap.PercentageComplete, snap.UpdatedAt)
	return err
}

func (s *storePG) GetProgress(ctx context.Context, invitationID uuid.UUID) (*ProgressSnapshot, error) {
	var snap ProgressSnapshot
	var responses []byte
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT invitation_id, responses, current_item_index, percentage_complete, updated_at
		FROM invitation_progress WHERE invitation_id = $1`, invitationID).
		Scan(&snap.InvitationID, &responses, &snap.CurrentItemIndex, &snap.PercentageComplete, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(responses, &snap.Responses); err != nil {
		return nil, fmt.Errorf("unmarshal responses: %w", err)
	}
	return &snap, nil
}

func (s *storePG) DeleteProgress(ctx context.Context, invitationID uuid.UUID) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM invitation_progress WHERE invitation_id = $1`, invitationID)
	return err
}

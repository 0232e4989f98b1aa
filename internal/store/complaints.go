package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Escalation stamp columns on complaints.
const (
	StampReminder   = "reminder_sent_at"
	StampEscalate3d = "escalated_3d_at"
	StampEscalate6d = "escalated_6d_at"
)

var escalationStamps = map[string]struct{}{
	StampReminder:   {},
	StampEscalate3d: {},
	StampEscalate6d: {},
}

const complaintColumns = `id, reference, customer_name, customer_email, customer_phone, order_reference, category,
	subject, message, attachment_key, status, assigned_to, escalation_level, reminder_sent_at, escalated_3d_at,
	escalated_6d_at, resolved_at, created_at, updated_at`

func scanComplaint(row interface{ Scan(...any) error }) (Complaint, error) {
	var item Complaint
	err := row.Scan(
		&item.ID, &item.Reference, &item.CustomerName, &item.CustomerEmail, &item.CustomerPhone, &item.OrderReference,
		&item.Category, &item.Subject, &item.Message, &item.AttachmentKey, &item.Status, &item.AssignedTo,
		&item.EscalationLevel, &item.ReminderSentAt, &item.Escalated3dAt, &item.Escalated6dAt, &item.ResolvedAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertComplaint(ctx context.Context, item Complaint) (Complaint, error) {
	created, err := scanComplaint(s.db.QueryRowContext(ctx, `
		INSERT INTO complaints (id, reference, customer_name, customer_email, customer_phone, order_reference,
			category, subject, message, attachment_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'sent')
		RETURNING `+complaintColumns,
		item.ID, item.Reference, item.CustomerName, item.CustomerEmail, item.CustomerPhone, item.OrderReference,
		item.Category, item.Subject, item.Message, item.AttachmentKey,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Complaint{}, ErrConflict
		}
		return Complaint{}, fmt.Errorf("insert complaint: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetComplaint(ctx context.Context, id string) (Complaint, error) {
	item, err := scanComplaint(s.db.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id=$1 OR reference=$1`, id))
	if err != nil {
		return Complaint{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListComplaints(ctx context.Context, filter ComplaintFilter) ([]Complaint, int, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.EscalationLevel != nil {
		args = append(args, *filter.EscalationLevel)
		where = append(where, fmt.Sprintf("escalation_level=$%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, q)
		where = append(where, fmt.Sprintf("search_vector @@ websearch_to_tsquery('simple', $%d)", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM complaints `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count complaints: %w", err)
	}

	args = append(args, clampLimit(filter.Limit, 50, 200), max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM complaints %s ORDER BY escalation_level DESC, created_at ASC LIMIT $%d OFFSET $%d`,
		complaintColumns, clause, len(args)-1, len(args))
	items, err := s.queryComplaints(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CandidatePage selects one page of escalation candidates. The zero cursor
// starts from the oldest complaint; later pages continue strictly after
// (AfterCreatedAt, AfterID).
type CandidatePage struct {
	Cutoff         time.Time
	AfterCreatedAt time.Time
	AfterID        string
	Limit          int
}

// ListEscalationCandidates returns unresolved complaints created at or
// before cutoff that still have at least one unstamped tier, ordered by
// (created_at, id).
func (s *PostgresStore) ListEscalationCandidates(ctx context.Context, page CandidatePage) ([]Complaint, error) {
	return s.queryComplaints(ctx, `
		SELECT `+complaintColumns+`
		FROM complaints
		WHERE status NOT IN ('resolved', 'closed')
			AND created_at <= $1
			AND (reminder_sent_at IS NULL OR escalated_3d_at IS NULL OR escalated_6d_at IS NULL)
			AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`, page.Cutoff, page.AfterCreatedAt, page.AfterID, clampLimit(page.Limit, 200, 1000))
}

func (s *PostgresStore) queryComplaints(ctx context.Context, query string, args ...any) ([]Complaint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	items := make([]Complaint, 0)
	for rows.Next() {
		item, err := scanComplaint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan complaint: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate complaints: %w", err)
	}
	return items, nil
}

// TransitionComplaint moves a complaint from one status to another. It fails
// with ErrStaleStatus when the row is no longer in the expected status.
func (s *PostgresStore) TransitionComplaint(ctx context.Context, id, from, to string) (Complaint, error) {
	item, err := scanComplaint(s.db.QueryRowContext(ctx, `
		UPDATE complaints
		SET status=$3,
			resolved_at=CASE WHEN $3='resolved' THEN NOW() WHEN $3='in_progress' THEN NULL ELSE resolved_at END,
			updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING `+complaintColumns, id, from, to))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetComplaint(ctx, id); getErr == nil {
				return Complaint{}, ErrStaleStatus
			}
		}
		return Complaint{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) AssignComplaint(ctx context.Context, id, handler string) (Complaint, error) {
	item, err := scanComplaint(s.db.QueryRowContext(ctx, `
		UPDATE complaints SET assigned_to=$2, updated_at=NOW() WHERE id=$1
		RETURNING `+complaintColumns, id, handler))
	if err != nil {
		return Complaint{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) InsertComplaintNote(ctx context.Context, note ComplaintNote) (ComplaintNote, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO complaint_notes (id, complaint_id, author_name, body, from_status, to_status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING created_at
	`, note.ID, note.ComplaintID, note.AuthorName, note.Body, note.FromStatus, note.ToStatus).Scan(&note.CreatedAt)
	if err != nil {
		return ComplaintNote{}, fmt.Errorf("insert complaint note: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE complaints SET updated_at=NOW() WHERE id=$1`, note.ComplaintID); err != nil {
		return ComplaintNote{}, fmt.Errorf("touch complaint: %w", err)
	}
	return note, nil
}

func (s *PostgresStore) ListComplaintNotes(ctx context.Context, complaintID string) ([]ComplaintNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, complaint_id, author_name, body, COALESCE(from_status, ''), COALESCE(to_status, ''), created_at
		FROM complaint_notes
		WHERE complaint_id=$1
		ORDER BY created_at ASC
	`, complaintID)
	if err != nil {
		return nil, fmt.Errorf("list complaint notes: %w", err)
	}
	defer rows.Close()

	items := make([]ComplaintNote, 0)
	for rows.Next() {
		var note ComplaintNote
		if err := rows.Scan(&note.ID, &note.ComplaintID, &note.AuthorName, &note.Body, &note.FromStatus, &note.ToStatus, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan complaint note: %w", err)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate complaint notes: %w", err)
	}
	return items, nil
}

// EscalationClaim describes one tier stamp to take on a complaint.
type EscalationClaim struct {
	ComplaintID string
	Stamp       string
	Level       int
	// Supersede lists lower stamps filled with the same time if still empty.
	Supersede []string
	// Statuses the complaint must still be in for the claim to succeed.
	Statuses []string
	At       time.Time
}

// ClaimEscalation stamps the tier column only if it is still empty and the
// complaint is still eligible. The boolean reports whether this caller won.
func (s *PostgresStore) ClaimEscalation(ctx context.Context, claim EscalationClaim) (bool, error) {
	if _, ok := escalationStamps[claim.Stamp]; !ok {
		return false, fmt.Errorf("claim escalation: unknown stamp %q", claim.Stamp)
	}
	sets := []string{
		fmt.Sprintf("%s=$2", claim.Stamp),
		"escalation_level=GREATEST(escalation_level, $3)",
		"updated_at=NOW()",
	}
	for _, stamp := range claim.Supersede {
		if _, ok := escalationStamps[stamp]; !ok || stamp == claim.Stamp {
			return false, fmt.Errorf("claim escalation: invalid superseded stamp %q", stamp)
		}
		sets = append(sets, fmt.Sprintf("%s=COALESCE(%s, $2)", stamp, stamp))
	}
	query := fmt.Sprintf(`UPDATE complaints SET %s WHERE id=$1 AND %s IS NULL AND status = ANY($4)`,
		strings.Join(sets, ", "), claim.Stamp)

	result, err := s.db.ExecContext(ctx, query, claim.ComplaintID, claim.At, claim.Level, claim.Statuses)
	if err != nil {
		return false, fmt.Errorf("claim escalation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim escalation rows: %w", err)
	}
	return affected == 1, nil
}

// ReleaseEscalation undoes a claim after a failed send so the next run retries.
// Only the exact stamp written by the claim is cleared.
func (s *PostgresStore) ReleaseEscalation(ctx context.Context, claim EscalationClaim, previousLevel int) error {
	if _, ok := escalationStamps[claim.Stamp]; !ok {
		return fmt.Errorf("release escalation: unknown stamp %q", claim.Stamp)
	}
	query := fmt.Sprintf(`UPDATE complaints SET %s=NULL, escalation_level=$3, updated_at=NOW() WHERE id=$1 AND %s=$2`,
		claim.Stamp, claim.Stamp)
	if _, err := s.db.ExecContext(ctx, query, claim.ComplaintID, claim.At, previousLevel); err != nil {
		return fmt.Errorf("release escalation: %w", err)
	}
	return nil
}

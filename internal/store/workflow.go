package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

var pgTypes = pgtype.NewMap()

const submissionColumns = `id, title, description, amount_cents, currency, category, attachment_keys, status,
	submitted_by, submitted_by_name, submitted_by_email, revision, created_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (Submission, error) {
	var item Submission
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.AmountCents, &item.Currency, &item.Category,
		pgTypes.SQLScanner(&item.AttachmentKeys), &item.Status, &item.SubmittedBy, &item.SubmittedByName,
		&item.SubmittedByEmail, &item.Revision, &item.CreatedAt, &item.UpdatedAt,
	)
	if item.AttachmentKeys == nil {
		item.AttachmentKeys = []string{}
	}
	return item, err
}

const decisionColumns = `id, submission_id, stage, decision, from_status, to_status, actor_id, actor_name,
	actor_role, comment, signature_key, decided_at`

func scanDecision(row interface{ Scan(...any) error }) (Decision, error) {
	var item Decision
	err := row.Scan(
		&item.ID, &item.SubmissionID, &item.Stage, &item.Decision, &item.FromStatus, &item.ToStatus, &item.ActorID,
		&item.ActorName, &item.ActorRole, &item.Comment, &item.SignatureKey, &item.DecidedAt,
	)
	return item, err
}

// InsertSubmission creates the submission and its opening "submit" decision row.
func (s *PostgresStore) InsertSubmission(ctx context.Context, item Submission, opening Decision) (Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Submission{}, fmt.Errorf("begin submission tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keys := item.AttachmentKeys
	if keys == nil {
		keys = []string{}
	}
	created, err := scanSubmission(tx.QueryRowContext(ctx, `
		INSERT INTO workflow_submissions (id, title, description, amount_cents, currency, category, attachment_keys,
			status, submitted_by, submitted_by_name, submitted_by_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+submissionColumns,
		item.ID, item.Title, item.Description, item.AmountCents, item.Currency, item.Category, keys,
		item.Status, item.SubmittedBy, item.SubmittedByName, item.SubmittedByEmail,
	))
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}

	opening.SubmissionID = created.ID
	if err := insertDecision(ctx, tx, opening); err != nil {
		return Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return Submission{}, fmt.Errorf("commit submission: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	item, err := scanSubmission(s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM workflow_submissions WHERE id=$1`, id))
	if err != nil {
		return Submission{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SubmittedBy != "" {
		args = append(args, filter.SubmittedBy)
		where = append(where, fmt.Sprintf("submitted_by=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_submissions `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	args = append(args, clampLimit(filter.Limit, 50, 200), max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM workflow_submissions %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		submissionColumns, clause, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, total, nil
}

// RecordDecision moves the submission from decision.FromStatus to
// decision.ToStatus and appends the decision row in one transaction. When
// another writer moved the status first it returns ErrStaleStatus and writes
// nothing. A non-nil changes applies resubmission edits and bumps revision.
func (s *PostgresStore) RecordDecision(ctx context.Context, decision Decision, changes *SubmissionChanges) (Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Submission{}, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		updated Submission
		scanErr error
	)
	if changes == nil {
		updated, scanErr = scanSubmission(tx.QueryRowContext(ctx, `
			UPDATE workflow_submissions SET status=$3, updated_at=NOW()
			WHERE id=$1 AND status=$2
			RETURNING `+submissionColumns, decision.SubmissionID, decision.FromStatus, decision.ToStatus))
	} else {
		var keys any
		if changes.AttachmentKeys != nil {
			keys = changes.AttachmentKeys
		}
		updated, scanErr = scanSubmission(tx.QueryRowContext(ctx, `
			UPDATE workflow_submissions
			SET status=$3,
				title=COALESCE($4, title),
				description=COALESCE($5, description),
				amount_cents=COALESCE($6, amount_cents),
				currency=COALESCE($7, currency),
				category=COALESCE($8, category),
				attachment_keys=COALESCE($9::TEXT[], attachment_keys),
				revision=revision+1,
				updated_at=NOW()
			WHERE id=$1 AND status=$2
			RETURNING `+submissionColumns, decision.SubmissionID, decision.FromStatus, decision.ToStatus,
			changes.Title, changes.Description, changes.AmountCents, changes.Currency, changes.Category, keys))
	}
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_submissions WHERE id=$1)`, decision.SubmissionID).Scan(&exists); err != nil {
				return Submission{}, fmt.Errorf("check submission: %w", err)
			}
			if exists {
				return Submission{}, ErrStaleStatus
			}
			return Submission{}, ErrNotFound
		}
		return Submission{}, fmt.Errorf("update submission status: %w", scanErr)
	}

	if err := insertDecision(ctx, tx, decision); err != nil {
		return Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return Submission{}, fmt.Errorf("commit decision: %w", err)
	}
	return updated, nil
}

func insertDecision(ctx context.Context, tx *sql.Tx, item Decision) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_decisions (submission_id, stage, decision, from_status, to_status, actor_id, actor_name,
			actor_role, comment, signature_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.SubmissionID, item.Stage, item.Decision, item.FromStatus, item.ToStatus, item.ActorID, item.ActorName,
		item.ActorRole, item.Comment, item.SignatureKey)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDecisions(ctx context.Context, submissionID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+`
		FROM workflow_decisions
		WHERE submission_id=$1
		ORDER BY decided_at ASC, id ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		item, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

// PendingCounts returns how many submissions wait at each status.
func (s *PostgresStore) PendingCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM workflow_submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count submissions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

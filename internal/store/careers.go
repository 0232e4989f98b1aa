package store

import (
	"context"
	"fmt"
	"strings"
)

const applicationColumns = `id, full_name, email, phone, position, cover_letter, cv_object_key, cv_file_name,
	cv_content_type, status, created_at, updated_at`

func scanApplication(row interface{ Scan(...any) error }) (JobApplication, error) {
	var item JobApplication
	err := row.Scan(
		&item.ID, &item.FullName, &item.Email, &item.Phone, &item.Position, &item.CoverLetter, &item.CVObjectKey,
		&item.CVFileName, &item.CVContentType, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertApplication(ctx context.Context, item JobApplication) (JobApplication, error) {
	created, err := scanApplication(s.db.QueryRowContext(ctx, `
		INSERT INTO job_applications (id, full_name, email, phone, position, cover_letter, cv_object_key, cv_file_name, cv_content_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'new')
		RETURNING `+applicationColumns,
		item.ID, item.FullName, item.Email, item.Phone, item.Position, item.CoverLetter, item.CVObjectKey,
		item.CVFileName, item.CVContentType,
	))
	if err != nil {
		return JobApplication{}, fmt.Errorf("insert application: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (JobApplication, error) {
	item, err := scanApplication(s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM job_applications WHERE id=$1`, id))
	if err != nil {
		return JobApplication{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateApplicationStatus(ctx context.Context, id, status string) (JobApplication, error) {
	item, err := scanApplication(s.db.QueryRowContext(ctx, `
		UPDATE job_applications SET status=$2, updated_at=NOW() WHERE id=$1
		RETURNING `+applicationColumns, id, status))
	if err != nil {
		return JobApplication{}, notFound(err)
	}
	return item, nil
}

// DeleteApplication removes the row and returns it so the caller can drop the CV object.
func (s *PostgresStore) DeleteApplication(ctx context.Context, id string) (JobApplication, error) {
	item, err := scanApplication(s.db.QueryRowContext(ctx, `DELETE FROM job_applications WHERE id=$1 RETURNING `+applicationColumns, id))
	if err != nil {
		return JobApplication{}, notFound(err)
	}
	return item, nil
}

func (s *PostgresStore) ListApplications(ctx context.Context, filter ApplicationFilter) ([]JobApplication, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Position != "" {
		args = append(args, filter.Position)
		where = append(where, fmt.Sprintf("position=$%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_applications `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}

	args = append(args, clampLimit(filter.Limit, 50, 200), max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM job_applications %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		applicationColumns, clause, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	items := make([]JobApplication, 0)
	for rows.Next() {
		item, err := scanApplication(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan application: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate applications: %w", err)
	}
	return items, total, nil
}

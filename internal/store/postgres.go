package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT short_id, title, description, max_fines
		FROM rules
		ORDER BY short_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	items := make([]Rule, 0)
	for rows.Next() {
		var item Rule
		if err := rows.Scan(&item.ShortID, &item.Title, &item.Description, &item.MaxFines); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRule(ctx context.Context, shortID string) (Rule, error) {
	var item Rule
	err := s.db.QueryRowContext(ctx, `
		SELECT short_id, title, description, max_fines
		FROM rules
		WHERE short_id=$1
	`, shortID).Scan(&item.ShortID, &item.Title, &item.Description, &item.MaxFines)
	if err != nil {
		return Rule{}, err
	}
	return item, nil
}

func (s *PostgresStore) RuleShortIDExists(ctx context.Context, shortID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rules WHERE short_id=$1)`, shortID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rule short_id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertRule(ctx context.Context, item Rule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (short_id, title, description, max_fines)
		VALUES ($1, $2, $3, $4)
	`, item.ShortID, item.Title, item.Description, item.MaxFines)
	if err != nil {
		return fmt.Errorf("insert rule: %w", mapConflict(err))
	}
	return nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, shortID string, patch RulePatch) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET title=COALESCE($2, title),
		    description=COALESCE($3, description),
		    max_fines=COALESCE($4, max_fines)
		WHERE short_id=$1
	`, shortID, patch.Title, patch.Description, patch.MaxFines)
	if err != nil {
		return false, fmt.Errorf("update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update rule affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, shortID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE short_id=$1`, shortID)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rule affected: %w", err)
	}
	return affected > 0, nil
}

// SearchRules is the fallback behind Meilisearch: a case-insensitive substring
// scan over title and description.
func (s *PostgresStore) SearchRules(ctx context.Context, query string, limit int) ([]Rule, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT short_id, title, description, max_fines
		FROM rules
		WHERE title ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY short_id
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search rules: %w", err)
	}
	defer rows.Close()

	items := make([]Rule, 0)
	for rows.Next() {
		var item Rule
		if err := rows.Scan(&item.ShortID, &item.Title, &item.Description, &item.MaxFines); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertViolation(ctx context.Context, item Violation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (
			short_id, rule_title, rule_short_id, description, count,
			evidence_url, approved, reimbursed,
			offender_id, offender_display, issuer_id, issuer_display, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		item.ShortID, item.Rule.Title, item.Rule.ShortID, item.Description, item.Count,
		nullIfEmpty(item.EvidenceURL), item.Approved, item.Reimbursed,
		item.OffenderID, item.OffenderDisplay, item.IssuerID, item.IssuerDisplay, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", mapConflict(err))
	}
	return nil
}

func (s *PostgresStore) GetViolation(ctx context.Context, shortID string) (Violation, error) {
	var item Violation
	var evidence sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT short_id, rule_title, rule_short_id, description, count,
		       evidence_url, approved, reimbursed,
		       offender_id, offender_display, issuer_id, issuer_display, created_at
		FROM violations
		WHERE short_id=$1
	`, shortID).Scan(
		&item.ShortID, &item.Rule.Title, &item.Rule.ShortID, &item.Description, &item.Count,
		&evidence, &item.Approved, &item.Reimbursed,
		&item.OffenderID, &item.OffenderDisplay, &item.IssuerID, &item.IssuerDisplay, &item.CreatedAt,
	)
	if err != nil {
		return Violation{}, err
	}
	item.EvidenceURL = evidence.String
	return item, nil
}

func (s *PostgresStore) DeleteViolation(ctx context.Context, shortID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM violations WHERE short_id=$1`, shortID)
	if err != nil {
		return false, fmt.Errorf("delete violation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete violation affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListViolationsForOffender(ctx context.Context, offenderID string) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT short_id, rule_title, rule_short_id, description, count,
		       evidence_url, approved, reimbursed,
		       offender_id, offender_display, issuer_id, issuer_display, created_at
		FROM violations
		WHERE offender_id=$1
		ORDER BY created_at DESC, short_id
	`, offenderID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	items := make([]Violation, 0)
	for rows.Next() {
		var item Violation
		var evidence sql.NullString
		if err := rows.Scan(
			&item.ShortID, &item.Rule.Title, &item.Rule.ShortID, &item.Description, &item.Count,
			&evidence, &item.Approved, &item.Reimbursed,
			&item.OffenderID, &item.OffenderDisplay, &item.IssuerID, &item.IssuerDisplay, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		item.EvidenceURL = evidence.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SumCountsForOffender(ctx context.Context, offenderID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM violations WHERE offender_id=$1
	`, offenderID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum violation counts: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ViolationShortIDExists(ctx context.Context, shortID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM violations WHERE short_id=$1)`, shortID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check violation short_id: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ViolationShortIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT short_id FROM violations`)
	if err != nil {
		return nil, fmt.Errorf("list violation short_ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan violation short_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation short_ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) SetViolationApproved(ctx context.Context, shortID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE violations SET approved=TRUE WHERE short_id=$1`, shortID)
	if err != nil {
		return false, fmt.Errorf("approve violation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve violation affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetViolationReimbursed(ctx context.Context, shortID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE violations SET reimbursed=TRUE WHERE short_id=$1`, shortID)
	if err != nil {
		return false, fmt.Errorf("reimburse violation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reimburse violation affected: %w", err)
	}
	return affected > 0, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

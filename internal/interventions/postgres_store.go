package interventions

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed intervention store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the interventions table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS interventions (
			id          VARCHAR(40) PRIMARY KEY,
			user_id     BIGINT NOT NULL,
			course_id   BIGINT NOT NULL,
			type        VARCHAR(20) NOT NULL,
			status      VARCHAR(20) NOT NULL DEFAULT 'sent',
			risk_score  SMALLINT NOT NULL DEFAULT 0,
			notes       TEXT NOT NULL DEFAULT '',
			created_by  VARCHAR(120) NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_interventions_user ON interventions(user_id, course_id);
		CREATE INDEX IF NOT EXISTS idx_interventions_status ON interventions(status);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, iv *Intervention) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO interventions (
			id, user_id, course_id, type, status, risk_score,
			notes, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, iv.ID, iv.UserID, iv.CourseID, iv.Type, iv.Status, iv.RiskScore,
		iv.Notes, iv.CreatedBy, iv.CreatedAt, iv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert intervention: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Intervention, error) {
	return scanIntervention(p.db.QueryRowContext(ctx, `
		SELECT id, user_id, course_id, type, status, risk_score,
		       notes, created_by, created_at, updated_at
		FROM interventions WHERE id = $1
	`, id))
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Intervention, error) {
	return scanIntervention(p.db.QueryRowContext(ctx, `
		UPDATE interventions SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, user_id, course_id, type, status, risk_score,
		          notes, created_by, created_at, updated_at
	`, id, status, at))
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Intervention, error) {
	f = f.normalized()

	where := "TRUE"
	var args []any
	if f.UserID != 0 {
		args = append(args, f.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.CourseID != 0 {
		args = append(args, f.CourseID)
		where += fmt.Sprintf(" AND course_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, course_id, type, status, risk_score,
		       notes, created_by, created_at, updated_at
		FROM interventions
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", err)
	}
	defer rows.Close()

	var out []*Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Stats(ctx context.Context, courseID int64, since time.Time) (*Stats, error) {
	stats := &Stats{
		CourseID: courseID,
		Since:    since,
		ByType:   make(map[Type]int),
		ByStatus: make(map[Status]int),
	}

	args := []any{since}
	course := ""
	if courseID != 0 {
		args = append(args, courseID)
		course = "AND course_id = $2"
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, status, COUNT(*)
		FROM interventions
		WHERE created_at >= $1 %s
		GROUP BY type, status
	`, course), args...)
	if err != nil {
		return nil, fmt.Errorf("intervention stats: %w", err)
	}
	defer rows.Close()

	respondedCount := 0
	for rows.Next() {
		var t Type
		var s Status
		var n int
		if err := rows.Scan(&t, &s, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.ByType[t] += n
		stats.ByStatus[s] += n
		if responded(s) {
			respondedCount += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		stats.ResponseRate = float64(respondedCount) / float64(stats.Total)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntervention(row rowScanner) (*Intervention, error) {
	var iv Intervention
	err := row.Scan(&iv.ID, &iv.UserID, &iv.CourseID, &iv.Type, &iv.Status,
		&iv.RiskScore, &iv.Notes, &iv.CreatedBy, &iv.CreatedAt, &iv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intervention: %w", err)
	}
	return &iv, nil
}

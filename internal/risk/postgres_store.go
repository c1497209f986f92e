package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed risk score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_scores table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_scores (
			user_id        BIGINT NOT NULL,
			course_id      BIGINT NOT NULL,
			risk_score     SMALLINT NOT NULL,
			risk_level     VARCHAR(20) NOT NULL,
			factors        JSONB NOT NULL DEFAULT '{}',
			suggestions    JSONB NOT NULL DEFAULT '[]',
			trend          VARCHAR(20) NOT NULL DEFAULT 'stable',
			days_inactive  INT NOT NULL DEFAULT 0,
			last_activity  TIMESTAMPTZ,
			calculated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, course_id)
		);
		CREATE INDEX IF NOT EXISTS idx_risk_scores_score ON risk_scores(risk_score DESC);
		CREATE INDEX IF NOT EXISTS idx_risk_scores_course ON risk_scores(course_id);
		CREATE INDEX IF NOT EXISTS idx_risk_scores_level ON risk_scores(risk_level);
	`)
	return err
}

func (p *PostgresStore) Upsert(ctx context.Context, r *Result) error {
	factors, err := json.Marshal(r.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	suggestions, err := json.Marshal(r.Suggestions)
	if err != nil {
		return fmt.Errorf("marshal suggestions: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO risk_scores (
			user_id, course_id, risk_score, risk_level, factors,
			suggestions, trend, days_inactive, last_activity, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, course_id) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			factors = EXCLUDED.factors,
			suggestions = EXCLUDED.suggestions,
			trend = EXCLUDED.trend,
			days_inactive = EXCLUDED.days_inactive,
			last_activity = EXCLUDED.last_activity,
			calculated_at = EXCLUDED.calculated_at
	`, r.UserID, r.CourseID, r.Score, r.Level, factors,
		suggestions, r.Trend, r.DaysInactive, r.LastActivity, r.CalculatedAt)
	if err != nil {
		return fmt.Errorf("upsert risk score: %w", err)
	}
	return nil
}

func (p *PostgresStore) Latest(ctx context.Context, userID, courseID int64) (*Result, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+`
		FROM risk_scores WHERE user_id = $1 AND course_id = $2
	`, userID, courseID)
	return scanResult(row)
}

func (p *PostgresStore) AtOrBefore(ctx context.Context, userID, courseID int64, t time.Time) (*Result, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+`
		FROM risk_scores
		WHERE user_id = $1 AND course_id = $2 AND calculated_at <= $3
	`, userID, courseID, t)
	return scanResult(row)
}

func (p *PostgresStore) ListAtRisk(ctx context.Context, f ListFilter) ([]*Result, error) {
	f = f.normalized()
	where, args := filterClauses(f)

	query := selectColumns + `
		FROM risk_scores
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY risk_score DESC, last_activity ASC NULLS FIRST
		LIMIT $` + fmt.Sprint(len(args)+1) + ` OFFSET $` + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list at risk: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountAtRisk(ctx context.Context, f ListFilter) (int, error) {
	f = f.normalized()
	where, args := filterClauses(f)

	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM risk_scores WHERE `+strings.Join(where, " AND "),
		args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count at risk: %w", err)
	}
	return n, nil
}

const selectColumns = `
	SELECT user_id, course_id, risk_score, risk_level, factors,
	       suggestions, trend, days_inactive, last_activity, calculated_at`

func filterClauses(f ListFilter) ([]string, []any) {
	where := []string{"risk_score >= $1"}
	args := []any{f.MinScore}
	if f.CourseID != 0 {
		args = append(args, f.CourseID)
		where = append(where, fmt.Sprintf("course_id = $%d", len(args)))
	}
	if f.Level != "" {
		args = append(args, f.Level)
		where = append(where, fmt.Sprintf("risk_level = $%d", len(args)))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		r           Result
		factors     []byte
		suggestions []byte
		lastAt      sql.NullTime
	)
	err := row.Scan(&r.UserID, &r.CourseID, &r.Score, &r.Level, &factors,
		&suggestions, &r.Trend, &r.DaysInactive, &lastAt, &r.CalculatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan risk score: %w", err)
	}
	if err := json.Unmarshal(factors, &r.Factors); err != nil {
		return nil, fmt.Errorf("unmarshal factors: %w", err)
	}
	if err := json.Unmarshal(suggestions, &r.Suggestions); err != nil {
		return nil, fmt.Errorf("unmarshal suggestions: %w", err)
	}
	if lastAt.Valid {
		t := lastAt.Time
		r.LastActivity = &t
	}
	return &r, nil
}

package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Every event
// lands in activity_log; course events also maintain the
// student_progress, quiz_attempts and assignment_submissions tables
// the risk signal queries read.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed activity store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	progressInProgress = 1
	progressCompleted  = 2
)

// Migrate creates the activity tables if needed. The goose migrations
// under migrations/ are authoritative; this keeps fresh databases
// usable without running them.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activity_log (
			id VARCHAR(40) PRIMARY KEY,
			user_id BIGINT NOT NULL,
			course_id BIGINT,
			activity_type TEXT NOT NULL,
			object_id BIGINT NOT NULL DEFAULT 0,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activity_log_user ON activity_log(user_id, occurred_at DESC);
		CREATE INDEX IF NOT EXISTS idx_activity_log_course ON activity_log(course_id, occurred_at DESC);

		CREATE TABLE IF NOT EXISTS student_progress (
			user_id BIGINT NOT NULL,
			course_id BIGINT NOT NULL,
			object_id BIGINT NOT NULL,
			completion_status SMALLINT NOT NULL DEFAULT 1,
			last_activity TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, course_id, object_id)
		);
		CREATE INDEX IF NOT EXISTS idx_student_progress_pair ON student_progress(user_id, course_id);
		CREATE INDEX IF NOT EXISTS idx_student_progress_last ON student_progress(last_activity);

		CREATE TABLE IF NOT EXISTS quiz_attempts (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			course_id BIGINT NOT NULL,
			quiz_id BIGINT NOT NULL,
			score NUMERIC(5,2) NOT NULL,
			attempted_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_quiz_attempts_user ON quiz_attempts(user_id, course_id, attempted_at);

		CREATE TABLE IF NOT EXISTS assignment_submissions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			course_id BIGINT NOT NULL,
			assignment_id BIGINT NOT NULL,
			due_at TIMESTAMPTZ,
			submitted_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_assignment_submissions_user ON assignment_submissions(user_id, course_id, submitted_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate activity tables: %w", err)
	}
	return nil
}

func (p *PostgresStore) Record(ctx context.Context, e *Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var courseID any
	if e.CourseID > 0 {
		courseID = e.CourseID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO activity_log (id, user_id, course_id, activity_type, object_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, courseID, e.Type, e.ObjectID, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	if e.CourseID > 0 {
		status := progressInProgress
		if e.Type == TypeLessonComplete {
			status = progressCompleted
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO student_progress (user_id, course_id, object_id, completion_status, last_activity)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, course_id, object_id) DO UPDATE SET
				completion_status = GREATEST(student_progress.completion_status, EXCLUDED.completion_status),
				last_activity = GREATEST(student_progress.last_activity, EXCLUDED.last_activity)
		`, e.UserID, e.CourseID, e.ObjectID, status, e.OccurredAt)
		if err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}
	}

	switch e.Type {
	case TypeQuizAttempt:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO quiz_attempts (user_id, course_id, quiz_id, score, attempted_at)
			VALUES ($1, $2, $3, $4, $5)
		`, e.UserID, e.CourseID, e.ObjectID, e.Score, e.OccurredAt)
		if err != nil {
			return fmt.Errorf("insert quiz attempt: %w", err)
		}
	case TypeAssignmentSubmit:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assignment_submissions (user_id, course_id, assignment_id, due_at, submitted_at)
			VALUES ($1, $2, $3, $4, $5)
		`, e.UserID, e.CourseID, e.ObjectID, e.DueAt, e.OccurredAt)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Summary(ctx context.Context, userID int64, since time.Time) (*Summary, error) {
	sum := &Summary{UserID: userID, Since: since, ByType: make(map[Type]int)}

	rows, err := p.db.QueryContext(ctx, `
		SELECT activity_type, COUNT(*)
		FROM activity_log
		WHERE user_id = $1 AND occurred_at >= $2
		GROUP BY activity_type
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Type
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		sum.ByType[t] = n
		sum.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullTime
	err = p.db.QueryRowContext(ctx, `
		SELECT MAX(occurred_at) FROM activity_log WHERE user_id = $1
	`, userID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("query last activity: %w", err)
	}
	if last.Valid {
		t := last.Time
		sum.LastActivity = &t
	}
	return sum, nil
}

func (p *PostgresStore) Inactive(ctx context.Context, f InactiveFilter) ([]InactiveStudent, error) {
	f = f.normalized()

	args := []any{f.Cutoff}
	course := ""
	if f.CourseID != 0 {
		args = append(args, f.CourseID)
		course = fmt.Sprintf("AND course_id = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)

	query := fmt.Sprintf(`
		SELECT user_id, course_id, MAX(last_activity) AS last_activity
		FROM student_progress
		WHERE TRUE %s
		GROUP BY user_id, course_id
		HAVING MAX(last_activity) < $1
		ORDER BY last_activity ASC, user_id ASC
		LIMIT $%d OFFSET $%d
	`, course, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inactive: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []InactiveStudent
	for rows.Next() {
		var s InactiveStudent
		if err := rows.Scan(&s.UserID, &s.CourseID, &s.LastActivity); err != nil {
			return nil, err
		}
		s.DaysInactive = int(now.Sub(s.LastActivity).Hours() / 24)
		out = append(out, s)
	}
	return out, rows.Err()
}

package provider

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Postgres reads activity signals from the analytics tables populated by
// the activity tracker (student_progress, activity_log, quiz_attempts,
// assignment_submissions).
type Postgres struct {
	db          *sql.DB
	forumSignal bool
}

// NewPostgres creates a PostgreSQL-backed provider. forumSignal reflects
// whether the host's social layer is connected; when false the forum
// factor is excluded from scoring.
func NewPostgres(db *sql.DB, forumSignal bool) *Postgres {
	return &Postgres{db: db, forumSignal: forumSignal}
}

func (p *Postgres) LastActivity(ctx context.Context, userID, courseID int64) (time.Time, bool, error) {
	var last sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT MAX(last_activity)
		FROM student_progress
		WHERE user_id = $1 AND course_id = $2
	`, userID, courseID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last activity: %w", err)
	}
	if last.Valid {
		return last.Time, true, nil
	}

	// No course activity; fall back to the student's last login.
	err = p.db.QueryRowContext(ctx, `
		SELECT MAX(occurred_at)
		FROM activity_log
		WHERE user_id = $1 AND activity_type = 'login'
	`, userID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last login: %w", err)
	}
	if last.Valid {
		return last.Time, true, nil
	}
	return time.Time{}, false, nil
}

func (p *Postgres) CompletionCount(ctx context.Context, userID, courseID int64, from, to time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM student_progress
		WHERE user_id = $1 AND course_id = $2 AND completion_status = 2
		  AND last_activity >= $3 AND last_activity < $4
	`, userID, courseID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query completion count: %w", err)
	}
	return n, nil
}

func (p *Postgres) QuizAverage(ctx context.Context, userID, courseID int64, from, to time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT AVG(score)
		FROM quiz_attempts
		WHERE user_id = $1 AND course_id = $2
		  AND attempted_at >= $3 AND attempted_at < $4
	`, userID, courseID, from, to).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("query quiz average: %w", err)
	}
	return avg.Float64, nil
}

func (p *Postgres) ForumActivityCount(ctx context.Context, userID int64, from, to time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM activity_log
		WHERE user_id = $1 AND activity_type = 'forum_post'
		  AND occurred_at >= $2 AND occurred_at < $3
	`, userID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query forum activity: %w", err)
	}
	return n, nil
}

func (p *Postgres) DelayedAssignmentCount(ctx context.Context, userID, courseID int64, from, to time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM assignment_submissions
		WHERE user_id = $1 AND course_id = $2
		  AND submitted_at > due_at
		  AND submitted_at >= $3 AND submitted_at < $4
	`, userID, courseID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query delayed assignments: %w", err)
	}
	return n, nil
}

func (p *Postgres) HasForumSignal() bool      { return p.forumSignal }
func (p *Postgres) HasAssignmentSignal() bool { return true }

// ActivePairs returns distinct (student, course) pairs with progress
// activity at or after since.
func (p *Postgres) ActivePairs(ctx context.Context, since time.Time) ([]Pair, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT user_id, course_id
		FROM student_progress
		WHERE last_activity >= $1
		ORDER BY user_id, course_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query active pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.UserID, &p.CourseID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

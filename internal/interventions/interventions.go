// Package interventions tracks outreach to at-risk students and
// whether it got a response.
package interventions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an intervention does not exist.
	ErrNotFound = errors.New("interventions: not found")

	// ErrInvalid is returned when an intervention fails validation.
	ErrInvalid = errors.New("interventions: invalid")
)

// Type names the outreach channel.
type Type string

const (
	TypeEmail   Type = "email"
	TypeMessage Type = "message"
	TypeCall    Type = "call"
	TypeMeeting Type = "meeting"
	TypeOther   Type = "other"
)

// ValidType reports whether s names a known intervention type.
func ValidType(s string) bool {
	switch Type(s) {
	case TypeEmail, TypeMessage, TypeCall, TypeMeeting, TypeOther:
		return true
	}
	return false
}

// Status tracks the lifecycle of one intervention.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusOpened   Status = "opened"
	StatusReplied  Status = "replied"
	StatusResolved Status = "resolved"
)

// ValidStatus reports whether s names a known status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusSent, StatusOpened, StatusReplied, StatusResolved:
		return true
	}
	return false
}

// responded reports whether the student reacted to the outreach.
func responded(s Status) bool {
	return s == StatusReplied || s == StatusResolved
}

// Intervention is one recorded outreach attempt.
type Intervention struct {
	ID       string `json:"id"`
	UserID   int64  `json:"userId"`
	CourseID int64  `json:"courseId"`
	Type     Type   `json:"type"`
	Status   Status `json:"status"`

	// RiskScore captures the student's score at the time of outreach.
	RiskScore int `json:"riskScore"`

	Notes     string    `json:"notes,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListFilter narrows an intervention listing. Zero values mean "any".
type ListFilter struct {
	UserID   int64
	CourseID int64
	Status   Status
	Limit    int
	Offset   int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Stats summarizes intervention outcomes for a course.
type Stats struct {
	CourseID     int64          `json:"courseId,omitempty"`
	Since        time.Time      `json:"since"`
	Total        int            `json:"total"`
	ByType       map[Type]int   `json:"byType"`
	ByStatus     map[Status]int `json:"byStatus"`
	ResponseRate float64        `json:"responseRate"`
}

// Store persists interventions.
type Store interface {
	Create(ctx context.Context, iv *Intervention) error
	Get(ctx context.Context, id string) (*Intervention, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Intervention, error)
	List(ctx context.Context, f ListFilter) ([]*Intervention, error)
	Stats(ctx context.Context, courseID int64, since time.Time) (*Stats, error)
}

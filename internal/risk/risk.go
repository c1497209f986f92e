// Package risk computes dropout risk scores for students from their
// recent learning activity. A score is a weighted blend of five factor
// dimensions, classified into a level, annotated with a trend against
// the previous snapshot and a set of suggested interventions.
package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is returned when a caller passes a non-positive
// user or course identifier.
var ErrInvalidArgument = errors.New("risk: user and course identifiers must be positive")

// Dimension names one of the factor inputs to a risk score.
type Dimension string

const (
	DimInactivity  Dimension = "inactivity"
	DimVelocity    Dimension = "velocity"
	DimQuiz        Dimension = "quiz"
	DimForum       Dimension = "forum"
	DimAssignments Dimension = "assignments"
)

// Dimensions lists every factor dimension in canonical order. Factor
// maps are serialized in this order so payloads stay stable.
var Dimensions = []Dimension{DimInactivity, DimVelocity, DimQuiz, DimForum, DimAssignments}

// Level classifies a composite score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// ValidLevel reports whether s names a known risk level.
func ValidLevel(s string) bool {
	switch Level(s) {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Trend describes how a score moved against the previous snapshot.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

// Weights holds the per-dimension weighting of the composite score.
// Values are percentages and should sum to 100, though the aggregator
// normalizes by the applicable weight sum so partial coverage still
// produces a sane score.
type Weights struct {
	Inactivity  int
	Velocity    int
	Quiz        int
	Forum       int
	Assignments int
}

// DefaultWeights mirrors the standard scoring policy.
var DefaultWeights = Weights{
	Inactivity:  35,
	Velocity:    25,
	Quiz:        20,
	Forum:       10,
	Assignments: 10,
}

// Of returns the weight configured for a dimension.
func (w Weights) Of(d Dimension) int {
	switch d {
	case DimInactivity:
		return w.Inactivity
	case DimVelocity:
		return w.Velocity
	case DimQuiz:
		return w.Quiz
	case DimForum:
		return w.Forum
	case DimAssignments:
		return w.Assignments
	}
	return 0
}

// Thresholds holds the lower bound of each level bucket. A score is
// classified into the highest bucket whose bound it meets.
type Thresholds struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// DefaultThresholds is the standard classification policy.
var DefaultThresholds = Thresholds{Low: 0, Medium: 25, High: 50, Critical: 75}

// LevelFor classifies a score against the thresholds.
func (t Thresholds) LevelFor(score int) Level {
	switch {
	case score >= t.Critical:
		return LevelCritical
	case score >= t.High:
		return LevelHigh
	case score >= t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Factor is one dimension's contribution to a score. Score is the
// normalized severity in [0,100], Weight its share of the composite,
// and Raw carries the dimension-specific inputs (days inactive,
// current and previous rates, delayed counts) for display.
type Factor struct {
	Score  float64
	Weight int
	Raw    map[string]float64
}

// MarshalJSON flattens Raw alongside score and weight so consumers see
// a single object per factor.
func (f Factor) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(f.Raw)+2)
	for k, v := range f.Raw {
		out[k] = v
	}
	out["score"] = f.Score
	out["weight"] = float64(f.Weight)
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *Factor) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Score = raw["score"]
	f.Weight = int(raw["weight"])
	delete(raw, "score")
	delete(raw, "weight")
	if len(raw) > 0 {
		f.Raw = raw
	} else {
		f.Raw = nil
	}
	return nil
}

// Factors maps each dimension to its computed factor.
type Factors map[Dimension]Factor

// MarshalJSON writes factors in canonical dimension order.
func (fs Factors) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	first := true
	for _, d := range Dimensions {
		f, ok := fs[d]
		if !ok {
			continue
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		key, err := json.Marshal(string(d))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("marshal factor %s: %w", d, err)
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

// Result is a computed risk snapshot for one student in one course.
type Result struct {
	UserID       int64      `json:"userId"`
	CourseID     int64      `json:"courseId"`
	Score        int        `json:"score"`
	Level        Level      `json:"level"`
	Factors      Factors    `json:"factors"`
	Trend        Trend      `json:"trend"`
	Suggestions  []string   `json:"suggestions"`
	DaysInactive int        `json:"daysInactive"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	CalculatedAt time.Time  `json:"calculatedAt"`
}

// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Unknown is the canonical sentinel for a missing categorical value.
const Unknown = "UNKNOWN"

// DateLayout is the calendar date format used by datasets and the API.
const DateLayout = "2006-01-02"

// RawMemberRecord is one member row as ingested. Any field may be absent (nil).
type RawMemberRecord struct {
	MemberID         string
	Name             *string
	Age              *float64
	Gender           *string
	Address          *string
	PhoneNumber      *string
	MembershipType   *string
	JoinDate         *time.Time
	LastVisitDate    *time.Time
	FavoriteExercise *string

	AvgWorkoutDurationMin *float64
	AvgCaloriesBurned     *float64
	TotalWeightLiftedKg   *float64
	VisitsPerMonth        *float64

	// Churn is a yes/no-like label; nil in inference mode.
	Churn *string
}

// MemberRecord is a normalized member row. Categoricals are never empty and
// numerics carry an explicit missing state.
type MemberRecord struct {
	MemberID         string
	Age              Optional[float64]
	Gender           string
	MembershipType   string
	JoinDate         *time.Time
	LastVisitDate    *time.Time
	FavoriteExercise string

	AvgWorkoutDurationMin Optional[float64]
	AvgCaloriesBurned     Optional[float64]
	TotalWeightLiftedKg   Optional[float64]
	VisitsPerMonth        Optional[float64]

	// Churn is 0 or 1; None in inference mode.
	Churn Optional[int]
}

// ParseDate parses a calendar date in DateLayout. Blank or malformed input yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// Date truncates t to its UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package shared

import (
	"math"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER ID
// ══════════════════════════════════════════════════════════════════════════════

// UserID identifies the learner that owns one progress aggregate. The engine
// receives it already authenticated; it only checks that one was supplied.
type UserID string

// IsValid returns true if the user id is non-empty.
func (u UserID) IsValid() bool {
	return strings.TrimSpace(string(u)) != ""
}

// String returns the user id as string.
func (u UserID) String() string {
	return string(u)
}

// NewUserID trims and validates a caller supplied user id.
func NewUserID(id string) (UserID, error) {
	u := UserID(strings.TrimSpace(id))
	if !u.IsValid() {
		return "", ErrNoUser
	}
	return u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PERCENT
// ══════════════════════════════════════════════════════════════════════════════

// Percent is an integer percentage in the range 0..100.
type Percent int

// PercentOf returns round(100 * part / total), clamped to 0..100.
// A non-positive total yields 0.
func PercentOf(part, total int) Percent {
	if total <= 0 || part <= 0 {
		return 0
	}
	if part >= total {
		return 100
	}
	return Percent(math.Round(100 * float64(part) / float64(total)))
}

// Int returns the percentage as int.
func (p Percent) Int() int {
	return int(p)
}

// IsComplete returns true at 100%.
func (p Percent) IsComplete() bool {
	return p >= 100
}

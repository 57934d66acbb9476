package progress

import (
	"time"

	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

// StreakState counts consecutive calendar days with activity.
type StreakState struct {
	Current      int        `json:"current"`
	Longest      int        `json:"longest"`
	LastActivity *time.Time `json:"last_activity"`
}

func (s StreakState) clone() StreakState {
	s.LastActivity = cloneTime(s.LastActivity)
	return s
}

// TouchStreak records activity at now and reports whether the streak
// changed. Days are compared as calendar dates in loc:
//
//   - same day as the last activity: no change
//   - the following day: Current grows by one
//   - any later day, or no previous activity: Current restarts at 1
//
// Activity dated before the last recorded day is ignored.
func (p *UserProgress) TouchStreak(now time.Time, loc *time.Location) bool {
	s := &p.Streak

	if s.LastActivity != nil {
		switch days := timeutil.DaysBetween(*s.LastActivity, now, loc); {
		case days <= 0:
			return false
		case days == 1:
			s.Current++
		default:
			s.Current = 1
		}
	} else {
		s.Current = 1
	}

	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.LastActivity = stamp(now)
	return true
}

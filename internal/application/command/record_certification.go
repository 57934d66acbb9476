package command

import (
	"context"
	"math"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD CERTIFICATION ATTEMPT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RecordCertificationAttemptCommand contains the data of one assessment attempt.
type RecordCertificationAttemptCommand struct {
	UserID string
	Level  string
	Score  float64
	Passed bool

	// Timestamp is when the attempt finished (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordCertificationAttemptCommand) Validate() error {
	if _, err := validateUser("record_certification", c.UserID); err != nil {
		return err
	}
	if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) || c.Score < 0 {
		return shared.ErrInvalidScore
	}
	return nil
}

// RecordCertificationAttemptResult contains the result of an attempt.
type RecordCertificationAttemptResult struct {
	Outcome

	// AchievedNow is true when this attempt earned the certification.
	AchievedNow bool

	// BestScore is the running maximum after the attempt.
	BestScore float64
}

// RecordCertificationAttempt executes the record certification attempt command.
func (c *Coordinator) RecordCertificationAttempt(ctx context.Context, cmd RecordCertificationAttemptCommand) (*RecordCertificationAttemptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(cmd.UserID)

	result := &RecordCertificationAttemptResult{}

	out, err := c.execute(ctx, execution{
		op:            "record_certification",
		userID:        userID,
		timestamp:     cmd.Timestamp,
		correlationID: cmd.CorrelationID,
		activity:      true,
		fields:        []logger.Field{logger.CertLevel(cmd.Level)},
	}, func(u *unitOfWork) (bool, error) {
		p := u.progress
		co, err := p.RecordCertificationAttempt(c.topology, cmd.Level, cmd.Score, cmd.Passed, u.now)
		if err != nil {
			return false, err
		}
		result.AchievedNow = co.AchievedNow

		if co.AchievedNow {
			u.emit(progress.NewCertificationEarnedEvent(p, co.Level, u.now))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	result.Outcome = *out
	if cs, ok := out.Progress.Certifications[cmd.Level]; ok {
		result.BestScore = cs.BestScore()
	}
	return result, nil
}

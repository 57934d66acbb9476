package command

import (
	"context"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD PLAYGROUND ACTION COMMAND
// Counts practice-tool usage. Unrecognized action kinds are ignored.
// ══════════════════════════════════════════════════════════════════════════════

// RecordPlaygroundActionCommand contains the data of one playground action.
type RecordPlaygroundActionCommand struct {
	UserID string
	Kind   progress.PlaygroundActionKind

	// Step names the methodology step for methodology_step_completed.
	Step string

	// Duration is the time spent for time_spent.
	Duration time.Duration

	// Timestamp is when the action occurred (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordPlaygroundActionCommand) Validate() error {
	if _, err := validateUser("record_playground", c.UserID); err != nil {
		return err
	}
	if c.Duration < 0 {
		return shared.ErrNegativeDuration
	}
	return nil
}

// RecordPlaygroundActionResult contains the result of a playground action.
type RecordPlaygroundActionResult struct {
	Outcome

	// Counted is false for unrecognized kinds.
	Counted bool
}

// RecordPlaygroundAction executes the record playground action command.
func (c *Coordinator) RecordPlaygroundAction(ctx context.Context, cmd RecordPlaygroundActionCommand) (*RecordPlaygroundActionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(cmd.UserID)

	result := &RecordPlaygroundActionResult{}

	out, err := c.execute(ctx, execution{
		op:            "record_playground",
		userID:        userID,
		timestamp:     cmd.Timestamp,
		correlationID: cmd.CorrelationID,
		activity:      true,
	}, func(u *unitOfWork) (bool, error) {
		result.Counted = u.progress.RecordPlaygroundAction(progress.PlaygroundAction{
			Kind:     cmd.Kind,
			Step:     cmd.Step,
			Duration: cmd.Duration,
		})
		return result.Counted, nil
	})
	if err != nil {
		return nil, err
	}

	result.Outcome = *out
	return result, nil
}

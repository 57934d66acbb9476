package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT ACHIEVEMENT COMMAND
// Awards an achievement explicitly, e.g. from a campaign or an admin tool.
// Granting an id the learner already holds changes nothing.
// ══════════════════════════════════════════════════════════════════════════════

// GrantAchievementCommand contains the data to award an achievement.
type GrantAchievementCommand struct {
	UserID        string
	AchievementID string
	Title         string
	Description   string

	// Category is optional; when empty it is derived from the id.
	Category progress.AchievementCategory

	// Timestamp is when the achievement was earned (defaults to now if zero).
	Timestamp time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c GrantAchievementCommand) Validate() error {
	if _, err := validateUser("grant_achievement", c.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(c.AchievementID) == "" {
		return shared.ErrEmptyAchievementID
	}
	if c.Category != "" && !c.Category.IsValid() {
		return fmt.Errorf("%w: unknown achievement category %q", shared.ErrInvalidInput, c.Category)
	}
	return nil
}

// GrantAchievementResult contains the result of a grant.
type GrantAchievementResult struct {
	Outcome

	// Granted is false when the learner already held the achievement.
	Granted bool

	// Achievement is the stored entry, including the original timestamp
	// for repeated grants.
	Achievement progress.Achievement
}

// GrantAchievement executes the grant achievement command.
func (c *Coordinator) GrantAchievement(ctx context.Context, cmd GrantAchievementCommand) (*GrantAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	userID, _ := shared.NewUserID(cmd.UserID)
	id := strings.TrimSpace(cmd.AchievementID)

	result := &GrantAchievementResult{}

	out, err := c.execute(ctx, execution{
		op:            "grant_achievement",
		userID:        userID,
		timestamp:     cmd.Timestamp,
		correlationID: cmd.CorrelationID,
		fields:        []logger.Field{logger.AchievementID(id)},
	}, func(u *unitOfWork) (bool, error) {
		result.Granted = c.grant(u, progress.AchievementGrant{
			ID:          id,
			Title:       cmd.Title,
			Description: cmd.Description,
			Category:    cmd.Category,
		})
		return result.Granted, nil
	})
	if err != nil {
		return nil, err
	}

	result.Outcome = *out
	result.Achievement, _ = out.Progress.Achievement(id)
	return result, nil
}

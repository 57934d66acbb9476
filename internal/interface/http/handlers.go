package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope wraps APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// CommandResponse is returned by every write endpoint.
type CommandResponse struct {
	UserID    string                 `json:"user_id"`
	Version   int64                  `json:"version"`
	Persisted bool                   `json:"persisted"`
	Ignored   bool                   `json:"ignored"`
	Events    []shared.EventEnvelope `json:"events"`
	Details   any                    `json:"details,omitempty"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{Code: code, Message: err.Error()},
	})
}

// respondDomainError maps engine errors onto HTTP statuses.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case command.IsValidationError(err):
		respondError(c, http.StatusBadRequest, "invalid_request", err)
	case shared.IsConcurrentModification(err):
		respondError(c, http.StatusConflict, "conflict", err)
	case shared.IsRetryable(err):
		respondError(c, http.StatusServiceUnavailable, "unavailable", err)
	default:
		logger.FromContext(c.Request.Context()).Error("request failed", logger.Err(err))
		respondError(c, http.StatusInternalServerError, "internal_error", errors.New("internal error"))
	}
}

func respondOutcome(c *gin.Context, out command.Outcome, details any) {
	events := make([]shared.EventEnvelope, 0, len(out.Events))
	for _, e := range out.Events {
		env, err := shared.NewEnvelope(e)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		events = append(events, env)
	}

	c.JSON(http.StatusOK, CommandResponse{
		UserID:    out.UserID,
		Version:   out.Version,
		Persisted: out.Persisted,
		Ignored:   out.Ignored,
		Events:    events,
		Details:   details,
	})
}

// bind decodes the JSON body; an empty body leaves req unchanged.
func bind(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return false
	}
	return true
}

// withConflictRetry runs fn again, with a fresh read, when its save lost an
// optimistic-lock race.
func (s *Server) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.ConflictRetrier(s.config.ConflictRetries, shared.IsConcurrentModification).Do(ctx, fn)
}

// maxSeconds is the largest second count a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// seconds converts a JSON second count. Values that do not fit a
// time.Duration are rejected; the sign is checked by the command.
func seconds(field string, v float64) (time.Duration, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxSeconds {
		return 0, fmt.Errorf("%s: %w", field, shared.ErrValueOutOfRange)
	}
	return time.Duration(v * float64(time.Second)), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetProgress(c *gin.Context) {
	res, err := s.deps.GetProgress.Handle(c.Request.Context(), query.GetProgressQuery{UserID: c.Param("user_id")})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetAnalytics(c *gin.Context) {
	res, err := s.deps.ExportAnalytics.Handle(c.Request.Context(), query.ExportAnalyticsQuery{UserID: c.Param("user_id")})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

type recordLessonRequest struct {
	ModuleID         string    `json:"module_id"`
	LessonID         string    `json:"lesson_id"`
	Completed        bool      `json:"completed"`
	TimeSpentSeconds float64   `json:"time_spent_seconds"`
	Timestamp        time.Time `json:"timestamp"`
}

type lessonDetails struct {
	ModuleProgress      int    `json:"module_progress"`
	ModuleJustCompleted bool   `json:"module_just_completed"`
	UnlockedModuleID    string `json:"unlocked_module_id,omitempty"`
}

func (s *Server) handleRecordLesson(c *gin.Context) {
	var req recordLessonRequest
	if !bind(c, &req) {
		return
	}
	spent, err := seconds("time_spent_seconds", req.TimeSpentSeconds)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var res *command.RecordLessonActivityResult
	err = s.withConflictRetry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.deps.Coordinator.RecordLessonActivity(ctx, command.RecordLessonActivityCommand{
			UserID:        c.Param("user_id"),
			ModuleID:      req.ModuleID,
			LessonID:      req.LessonID,
			Completed:     req.Completed,
			TimeSpent:     spent,
			Timestamp:     req.Timestamp,
			CorrelationID: requestID(c),
		})
		return err
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOutcome(c, res.Outcome, lessonDetails{
		ModuleProgress:      res.ModuleProgress,
		ModuleJustCompleted: res.Lesson.ModuleJustCompleted,
		UnlockedModuleID:    res.Lesson.UnlockedModuleID,
	})
}

type recordCertificationRequest struct {
	Level     string    `json:"level"`
	Score     float64   `json:"score"`
	Passed    bool      `json:"passed"`
	Timestamp time.Time `json:"timestamp"`
}

type certificationDetails struct {
	AchievedNow bool    `json:"achieved_now"`
	BestScore   float64 `json:"best_score"`
}

func (s *Server) handleRecordCertification(c *gin.Context) {
	var req recordCertificationRequest
	if !bind(c, &req) {
		return
	}

	var res *command.RecordCertificationAttemptResult
	err := s.withConflictRetry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.deps.Coordinator.RecordCertificationAttempt(ctx, command.RecordCertificationAttemptCommand{
			UserID:        c.Param("user_id"),
			Level:         req.Level,
			Score:         req.Score,
			Passed:        req.Passed,
			Timestamp:     req.Timestamp,
			CorrelationID: requestID(c),
		})
		return err
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOutcome(c, res.Outcome, certificationDetails{
		AchievedNow: res.AchievedNow,
		BestScore:   res.BestScore,
	})
}

type recordPlaygroundRequest struct {
	Action          string    `json:"action"`
	Step            string    `json:"step"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

type playgroundDetails struct {
	Counted bool `json:"counted"`
}

func (s *Server) handleRecordPlayground(c *gin.Context) {
	var req recordPlaygroundRequest
	if !bind(c, &req) {
		return
	}
	duration, err := seconds("duration_seconds", req.DurationSeconds)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var res *command.RecordPlaygroundActionResult
	err = s.withConflictRetry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.deps.Coordinator.RecordPlaygroundAction(ctx, command.RecordPlaygroundActionCommand{
			UserID:        c.Param("user_id"),
			Kind:          progress.PlaygroundActionKind(req.Action),
			Step:          req.Step,
			Duration:      duration,
			Timestamp:     req.Timestamp,
			CorrelationID: requestID(c),
		})
		return err
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOutcome(c, res.Outcome, playgroundDetails{Counted: res.Counted})
}

type grantAchievementRequest struct {
	AchievementID string    `json:"achievement_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Timestamp     time.Time `json:"timestamp"`
}

type achievementDetails struct {
	Granted     bool                 `json:"granted"`
	Achievement progress.Achievement `json:"achievement"`
}

func (s *Server) handleGrantAchievement(c *gin.Context) {
	var req grantAchievementRequest
	if !bind(c, &req) {
		return
	}

	var res *command.GrantAchievementResult
	err := s.withConflictRetry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.deps.Coordinator.GrantAchievement(ctx, command.GrantAchievementCommand{
			UserID:        c.Param("user_id"),
			AchievementID: req.AchievementID,
			Title:         req.Title,
			Description:   req.Description,
			Category:      progress.AchievementCategory(req.Category),
			Timestamp:     req.Timestamp,
			CorrelationID: requestID(c),
		})
		return err
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOutcome(c, res.Outcome, achievementDetails{
		Granted:     res.Granted,
		Achievement: res.Achievement,
	})
}

type touchStreakRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

type streakDetails struct {
	Changed bool                 `json:"changed"`
	Streak  progress.StreakState `json:"streak"`
}

func (s *Server) handleTouchStreak(c *gin.Context) {
	var req touchStreakRequest
	if !bind(c, &req) {
		return
	}

	var res *command.TouchStreakResult
	err := s.withConflictRetry(c.Request.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.deps.Coordinator.TouchStreak(ctx, command.TouchStreakCommand{
			UserID:        c.Param("user_id"),
			Timestamp:     req.Timestamp,
			CorrelationID: requestID(c),
		})
		return err
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondOutcome(c, res.Outcome, streakDetails{Changed: res.Changed, Streak: res.Streak})
}

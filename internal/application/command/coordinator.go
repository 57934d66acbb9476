// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS AGGREGATE COORDINATOR
// Every command is one unit of work: load the aggregate once, apply the
// sub-tracker, derive achievements and the streak, save once, then publish
// the effects in the order they happened.
// ══════════════════════════════════════════════════════════════════════════════

// CoordinatorConfig contains configuration for the coordinator.
type CoordinatorConfig struct {
	// StrictReferences returns unknown module, lesson and certification ids
	// to the caller. When false they are logged and ignored.
	StrictReferences bool

	// Location is the timezone calendar days are compared in.
	Location *time.Location

	// Rules are the derived achievement rules. Defaults to progress.DefaultRules.
	Rules *progress.RuleSet

	// Clock supplies the time for commands without a timestamp.
	Clock func() time.Time
}

// DefaultCoordinatorConfig returns default configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Location: time.UTC,
		Rules:    progress.DefaultRules(),
		Clock:    time.Now,
	}
}

// Coordinator applies commands to per-user progress aggregates. It holds no
// per-user state between calls.
type Coordinator struct {
	store     progress.SnapshotStore
	topology  *curriculum.Topology
	publisher shared.EventPublisher
	log       *logger.Logger

	strict bool
	loc    *time.Location
	rules  *progress.RuleSet
	clock  func() time.Time
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(
	store progress.SnapshotStore,
	topology *curriculum.Topology,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config CoordinatorConfig,
) *Coordinator {
	defaults := DefaultCoordinatorConfig()
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.Rules == nil {
		config.Rules = defaults.Rules
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Coordinator{
		store:     store,
		topology:  topology,
		publisher: publisher,
		log:       log.With(logger.Component("coordinator")),
		strict:    config.StrictReferences,
		loc:       config.Location,
		rules:     config.Rules,
		clock:     config.Clock,
	}
}

// Topology returns the curriculum the coordinator tracks against.
func (c *Coordinator) Topology() *curriculum.Topology {
	return c.topology
}

// Outcome is the common part of every command result.
type Outcome struct {
	// UserID is the learner the command applied to.
	UserID string

	// Persisted is false when the command was a no-op.
	Persisted bool

	// Ignored is true when an unknown reference was dropped in permissive mode.
	Ignored bool

	// Version is the aggregate version after the command.
	Version int64

	// Events contains the published domain events, in order.
	Events []shared.Event

	// Progress is the aggregate after the command.
	Progress *progress.UserProgress
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK
// ══════════════════════════════════════════════════════════════════════════════

// unitOfWork collects the effects of one command.
type unitOfWork struct {
	progress *progress.UserProgress
	now      time.Time
	events   []shared.Event
}

func (u *unitOfWork) emit(e shared.Event) {
	u.events = append(u.events, e)
}

// mutation applies a sub-tracker and reports whether the aggregate changed.
type mutation func(u *unitOfWork) (bool, error)

type execution struct {
	op            string
	userID        shared.UserID
	timestamp     time.Time
	correlationID string

	// activity commands count toward the daily streak.
	activity bool

	// fields name the curriculum references the command touches.
	fields []logger.Field
}

func (c *Coordinator) execute(ctx context.Context, ex execution, mutate mutation) (*Outcome, error) {
	start := time.Now()
	now := ex.timestamp
	if now.IsZero() {
		now = c.clock()
	}
	now = now.UTC()

	log := c.log.With(append([]logger.Field{
		logger.Operation(ex.op),
		logger.UserID(ex.userID.String()),
	}, ex.fields...)...)

	p, err := c.load(ctx, ex.userID, now)
	if err != nil {
		log.Error("failed to load progress", logger.Err(err))
		return nil, fmt.Errorf("%s: load: %w", ex.op, err)
	}
	expected := p.Version

	u := &unitOfWork{progress: p, now: now}
	out := &Outcome{UserID: p.UserID, Version: expected, Progress: p}

	changed, err := mutate(u)
	if err != nil {
		if shared.IsInvalidReference(err) && !c.strict {
			log.Warn("ignoring activity for unknown reference", logger.Err(err))
			out.Ignored = true
			return out, nil
		}
		return nil, fmt.Errorf("%s: %w", ex.op, err)
	}

	if changed {
		c.applyRules(u)

		if ex.activity {
			previous := p.Streak.Current
			if p.TouchStreak(now, c.loc) {
				u.emit(progress.NewStreakChangedEvent(p, previous, now))
				c.applyRules(u)
			}
		}
	}

	if !changed {
		log.Debug("command changed nothing")
		return out, nil
	}

	p.Touch(now)
	if err := c.store.Save(ctx, p, expected); err != nil {
		if shared.IsConcurrentModification(err) {
			log.Warn("progress changed concurrently", logger.Version(expected), logger.Err(err))
		} else {
			log.Error("failed to save progress", logger.Err(err))
		}
		return nil, fmt.Errorf("%s: save: %w", ex.op, err)
	}

	out.Persisted = true
	out.Version = p.Version
	out.Events = u.events

	c.publish(log, u.events, p.Version, ex.correlationID)

	log.Info("progress updated",
		logger.Version(p.Version),
		logger.EventCount(len(u.events)),
		logger.Latency(time.Since(start)),
	)
	return out, nil
}

// load returns the stored aggregate or a fresh one for a first-time user.
// Read failures are returned, never replaced by a fresh aggregate.
func (c *Coordinator) load(ctx context.Context, userID shared.UserID, now time.Time) (*progress.UserProgress, error) {
	p, err := c.store.Load(ctx, userID.String())
	if err != nil {
		if shared.IsNotFound(err) {
			return progress.NewUserProgress(userID, c.topology, now), nil
		}
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: store returned no aggregate for %q", shared.ErrCorruptSnapshot, userID)
	}
	p.Normalize()
	return p, nil
}

// applyRules grants every derived achievement whose condition now holds.
func (c *Coordinator) applyRules(u *unitOfWork) {
	for _, g := range c.rules.Evaluate(u.progress, c.topology) {
		c.grant(u, g)
	}
}

func (c *Coordinator) grant(u *unitOfWork, g progress.AchievementGrant) bool {
	p := u.progress
	if !p.GrantAchievement(g, u.now) {
		return false
	}
	u.emit(progress.NewAchievementEarnedEvent(p.UserID, p.Achievements[len(p.Achievements)-1]))
	return true
}

type versionedEvent interface {
	SetVersion(v int64)
	SetCorrelationID(id string)
}

// publish hands events to the sink after the save succeeded. A failing sink
// does not undo the command.
func (c *Coordinator) publish(log *logger.Logger, events []shared.Event, version int64, correlationID string) {
	for _, e := range events {
		if ve, ok := e.(versionedEvent); ok {
			ve.SetVersion(version)
			if correlationID != "" {
				ve.SetCorrelationID(correlationID)
			}
		}
	}
	if c.publisher == nil {
		return
	}
	for _, e := range events {
		if err := c.publisher.Publish(e); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(e.EventType())),
				logger.Err(err),
			)
		}
	}
}

// validateUser checks the user id shared by all commands.
func validateUser(op, userID string) (shared.UserID, error) {
	id, err := shared.NewUserID(userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// IsValidationError reports whether err was caused by invalid command input.
func IsValidationError(err error) bool {
	return shared.IsValidation(err) || errors.Is(err, shared.ErrInvalidReference)
}

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learning-progress/pkg/logger"
)

var day1 = time.Date(2024, time.September, 2, 10, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published event; it fails while err is set.
type recordingPublisher struct {
	events []shared.Event
	err    error
}

func (r *recordingPublisher) Publish(e shared.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) types() []shared.EventType {
	out := make([]shared.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func (r *recordingPublisher) reset() { r.events = nil }

func eventVersion(e shared.Event) int64 {
	switch ev := e.(type) {
	case *progress.ModuleCompletedEvent:
		return ev.Version
	case *progress.ModuleUnlockedEvent:
		return ev.Version
	case *progress.CertificationEarnedEvent:
		return ev.Version
	case *progress.AchievementEarnedEvent:
		return ev.Version
	case *progress.StreakChangedEvent:
		return ev.Version
	}
	return -1
}

// countingStore wraps a store and counts calls.
type countingStore struct {
	progress.SnapshotStore
	loadErr error
	loads   int
	saves   int

	// beforeSave runs before delegating a save.
	beforeSave func()
}

func (s *countingStore) Load(ctx context.Context, userID string) (*progress.UserProgress, error) {
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.SnapshotStore.Load(ctx, userID)
}

func (s *countingStore) Save(ctx context.Context, p *progress.UserProgress, expected int64) error {
	s.saves++
	if s.beforeSave != nil {
		s.beforeSave()
	}
	return s.SnapshotStore.Save(ctx, p, expected)
}

type fixture struct {
	coord *Coordinator
	store *countingStore
	mem   *memory.Store
	pub   *recordingPublisher
	now   time.Time
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	topo, err := curriculum.Default()
	require.NoError(t, err)

	f := &fixture{
		mem: memory.NewStore(),
		pub: &recordingPublisher{},
		now: day1,
	}
	f.store = &countingStore{SnapshotStore: f.mem}
	f.coord = NewCoordinator(f.store, topo, f.pub, nil, CoordinatorConfig{
		StrictReferences: strict,
		Clock:            func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) lesson(t *testing.T, moduleID string, i int, completed bool) *RecordLessonActivityResult {
	t.Helper()
	res, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID:    "u1",
		ModuleID:  moduleID,
		LessonID:  fmt.Sprintf("lesson-%d", i),
		Completed: completed,
		TimeSpent: time.Minute,
	})
	require.NoError(t, err)
	return res
}

func TestRecordLesson_FirstActivityCreatesAggregate(t *testing.T) {
	f := newFixture(t, false)

	res := f.lesson(t, "foundation", 1, true)

	assert.True(t, res.Persisted)
	assert.Equal(t, int64(1), res.Version)
	assert.Equal(t, 20, res.ModuleProgress)
	assert.Equal(t, []shared.EventType{shared.EventStreakChanged}, f.pub.types())

	stored, err := f.mem.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Streak.Current)
	assert.Equal(t, time.Minute, stored.Analytics.TotalTimeSpent)
	assert.True(t, stored.Modules["advanced"].Locked)
}

func TestRecordLesson_CompletingModuleEmitsEffectsInOrder(t *testing.T) {
	f := newFixture(t, false)
	for i := 1; i <= 4; i++ {
		f.lesson(t, "foundation", i, true)
	}
	f.pub.reset()

	res := f.lesson(t, "foundation", 5, true)

	assert.Equal(t, 100, res.ModuleProgress)
	assert.True(t, res.Lesson.ModuleJustCompleted)
	assert.Equal(t, "advanced", res.Lesson.UnlockedModuleID)
	assert.Equal(t, []shared.EventType{
		shared.EventModuleCompleted,
		shared.EventModuleUnlocked,
		shared.EventAchievementEarned,
	}, f.pub.types())

	earned := f.pub.events[2].(*progress.AchievementEarnedEvent)
	assert.Equal(t, progress.ModuleAchievementID("foundation"), earned.Achievement.ID)
	assert.Equal(t, progress.CategoryLearning, earned.Achievement.Category)

	for _, e := range f.pub.events {
		assert.Equal(t, res.Version, eventVersion(e))
	}
	assert.False(t, res.Progress.Modules["advanced"].Locked)
}

func TestRecordLesson_EventsCarryVersionAndCorrelationID(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID:        "u1",
		ModuleID:      "foundation",
		LessonID:      "intro",
		Completed:     true,
		CorrelationID: "req-42",
	})
	require.NoError(t, err)
	require.Len(t, f.pub.events, 1)

	ev := f.pub.events[0].(*progress.StreakChangedEvent)
	assert.Equal(t, res.Version, ev.Version)
	assert.Equal(t, "req-42", ev.CorrelationID)
}

func TestRecordLesson_UnlocksSuccessorOnce(t *testing.T) {
	f := newFixture(t, false)
	for i := 1; i <= 5; i++ {
		f.lesson(t, "foundation", i, true)
	}
	f.pub.reset()

	// Repeating a completed lesson counts the attempt only.
	res := f.lesson(t, "foundation", 5, true)
	assert.True(t, res.Persisted)
	assert.False(t, res.Lesson.ModuleJustCompleted)
	assert.Empty(t, res.Lesson.UnlockedModuleID)
	assert.Empty(t, f.pub.events)
	assert.Equal(t, 2, res.Progress.Modules["foundation"].Lessons["lesson-5"].Attempts)

	unlocks := 0
	for _, e := range res.Progress.Achievements {
		if e.ID == progress.ModuleAchievementID("foundation") {
			unlocks++
		}
	}
	assert.Equal(t, 1, unlocks)
}

func TestRecordLesson_UnknownReferencePermissive(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID:   "u1",
		ModuleID: "astrology",
		LessonID: "stars",
	})

	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.False(t, res.Persisted)
	assert.Zero(t, f.store.saves)
	assert.Empty(t, f.pub.events)
	assert.Zero(t, f.mem.Len())
}

func TestRecordLesson_UnknownReferenceStrict(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID:   "u1",
		ModuleID: "astrology",
		LessonID: "stars",
	})
	assert.ErrorIs(t, err, shared.ErrUnknownModule)
	assert.True(t, IsValidationError(err))

	_, err = f.coord.RecordCertificationAttempt(context.Background(), RecordCertificationAttemptCommand{
		UserID: "u1",
		Level:  "grandmaster",
		Score:  80,
		Passed: true,
	})
	assert.ErrorIs(t, err, shared.ErrUnknownCertification)
	assert.Zero(t, f.store.saves)
}

func TestRecordLesson_UnknownReferenceLogsReferences(t *testing.T) {
	topo, err := curriculum.Default()
	require.NoError(t, err)

	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Level: logger.LevelWarn, Format: "json"})
	coord := NewCoordinator(memory.NewStore(), topo, nil, log, CoordinatorConfig{})

	res, err := coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID:   "u1",
		ModuleID: "astrology",
		LessonID: "stars",
	})
	require.NoError(t, err)
	require.True(t, res.Ignored)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "record_lesson", entry["operation"])
	assert.Equal(t, "astrology", entry["module_id"])
	assert.Equal(t, "stars", entry["lesson_id"])
}

func TestCommands_RejectInvalidInput(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.coord.RecordLessonActivity(ctx, RecordLessonActivityCommand{UserID: "  ", ModuleID: "foundation", LessonID: "a"})
	assert.ErrorIs(t, err, shared.ErrNoUser)

	_, err = f.coord.RecordLessonActivity(ctx, RecordLessonActivityCommand{UserID: "u1", ModuleID: "foundation", LessonID: "a", TimeSpent: -time.Second})
	assert.ErrorIs(t, err, shared.ErrNegativeDuration)

	_, err = f.coord.RecordCertificationAttempt(ctx, RecordCertificationAttemptCommand{UserID: "u1", Level: "foundation", Score: -1})
	assert.ErrorIs(t, err, shared.ErrInvalidScore)

	_, err = f.coord.GrantAchievement(ctx, GrantAchievementCommand{UserID: "u1", AchievementID: " "})
	assert.ErrorIs(t, err, shared.ErrEmptyAchievementID)

	_, err = f.coord.GrantAchievement(ctx, GrantAchievementCommand{UserID: "u1", AchievementID: "x", Category: "cosmic"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.coord.TouchStreak(ctx, TouchStreakCommand{})
	assert.ErrorIs(t, err, shared.ErrNoUser)

	assert.True(t, IsValidationError(err))
	assert.Zero(t, f.store.loads)
}

func TestRecordCertification_BestScoreAndEarnedOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	attempt := func(score float64, passed bool) *RecordCertificationAttemptResult {
		res, err := f.coord.RecordCertificationAttempt(ctx, RecordCertificationAttemptCommand{
			UserID: "u1", Level: "foundation", Score: score, Passed: passed,
		})
		require.NoError(t, err)
		return res
	}

	res := attempt(40, false)
	assert.False(t, res.AchievedNow)
	assert.Equal(t, 40.0, res.BestScore)

	f.pub.reset()
	res = attempt(90, true)
	assert.True(t, res.AchievedNow)
	assert.Equal(t, []shared.EventType{
		shared.EventCertificationEarned,
		shared.EventAchievementEarned,
	}, f.pub.types())

	f.pub.reset()
	res = attempt(70, false)
	assert.False(t, res.AchievedNow)
	assert.Equal(t, 90.0, res.BestScore)
	assert.True(t, res.Progress.Certifications["foundation"].Achieved)
	assert.Equal(t, 3, res.Progress.Certifications["foundation"].AttemptCount)
	assert.Empty(t, f.pub.events)
	assert.True(t, res.Progress.HasAchievement(progress.CertificationAchievementID("foundation")))
}

func TestRecordPlayground_UnknownKindIsNotPersisted(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.coord.RecordPlaygroundAction(context.Background(), RecordPlaygroundActionCommand{
		UserID: "u1",
		Kind:   "teleport",
	})

	require.NoError(t, err)
	assert.False(t, res.Counted)
	assert.False(t, res.Persisted)
	assert.Zero(t, res.Version)
	assert.Zero(t, f.store.saves)
	assert.Empty(t, f.pub.events)
}

func TestRecordPlayground_FirstSessionAndProject(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.coord.RecordPlaygroundAction(ctx, RecordPlaygroundActionCommand{
		UserID: "u1", Kind: progress.ActionSessionCompleted,
	})
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.Equal(t, []shared.EventType{
		shared.EventAchievementEarned,
		shared.EventStreakChanged,
	}, f.pub.types())
	assert.Equal(t, progress.AchievementFirstPlayground,
		f.pub.events[0].(*progress.AchievementEarnedEvent).Achievement.ID)

	f.pub.reset()
	res, err = f.coord.RecordPlaygroundAction(ctx, RecordPlaygroundActionCommand{
		UserID: "u1", Kind: progress.ActionProjectCreated,
	})
	require.NoError(t, err)
	assert.Equal(t, []shared.EventType{shared.EventAchievementEarned}, f.pub.types())
	assert.Equal(t, 1, res.Progress.Playground.ProjectsCreated)
}

func TestGrantAchievement_RepeatReturnsOriginal(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.coord.GrantAchievement(ctx, GrantAchievementCommand{
		UserID:        "u1",
		AchievementID: "beta_tester",
		Title:         "Beta tester",
	})
	require.NoError(t, err)
	assert.True(t, first.Granted)
	assert.Equal(t, progress.CategoryGeneral, first.Achievement.Category)
	assert.Equal(t, day1, first.Achievement.EarnedAt)

	f.now = day1.Add(48 * time.Hour)
	f.pub.reset()
	again, err := f.coord.GrantAchievement(ctx, GrantAchievementCommand{
		UserID:        "u1",
		AchievementID: "beta_tester",
		Title:         "Renamed",
	})
	require.NoError(t, err)
	assert.False(t, again.Granted)
	assert.False(t, again.Persisted)
	assert.Equal(t, first.Version, again.Version)
	assert.Equal(t, first.Achievement, again.Achievement)
	assert.Empty(t, f.pub.events)
}

func TestGrantAchievement_DoesNotTouchStreak(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.coord.GrantAchievement(context.Background(), GrantAchievementCommand{
		UserID: "u1", AchievementID: "beta_tester",
	})
	require.NoError(t, err)
	assert.Zero(t, res.Progress.Streak.Current)
}

func TestTouchStreak_WeekStreakGrantsAchievement(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	var res *TouchStreakResult
	for d := 0; d < 7; d++ {
		var err error
		res, err = f.coord.TouchStreak(ctx, TouchStreakCommand{
			UserID:    "u1",
			Timestamp: day1.AddDate(0, 0, d),
		})
		require.NoError(t, err)
		assert.True(t, res.Changed)
	}

	assert.Equal(t, 7, res.Streak.Current)
	assert.Equal(t, 7, res.Streak.Longest)
	assert.True(t, res.Progress.HasAchievement(progress.AchievementStreak7))
	assert.False(t, res.Progress.HasAchievement(progress.AchievementStreak30))

	// Same day again changes nothing.
	again, err := f.coord.TouchStreak(ctx, TouchStreakCommand{UserID: "u1", Timestamp: day1.AddDate(0, 0, 6)})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.False(t, again.Persisted)

	// A gap restarts the streak but keeps the longest.
	gap, err := f.coord.TouchStreak(ctx, TouchStreakCommand{UserID: "u1", Timestamp: day1.AddDate(0, 0, 9)})
	require.NoError(t, err)
	assert.Equal(t, 1, gap.Streak.Current)
	assert.Equal(t, 7, gap.Streak.Longest)
}

func TestTouchStreak_UsesConfiguredTimezone(t *testing.T) {
	topo, err := curriculum.Default()
	require.NoError(t, err)
	almaty := time.FixedZone("ALMT", 5*3600)
	coord := NewCoordinator(memory.NewStore(), topo, nil, nil, CoordinatorConfig{Location: almaty})
	ctx := context.Background()

	// 18:30 and 19:30 UTC fall on consecutive local days.
	first := time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)
	_, err = coord.TouchStreak(ctx, TouchStreakCommand{UserID: "u1", Timestamp: first})
	require.NoError(t, err)

	res, err := coord.TouchStreak(ctx, TouchStreakCommand{UserID: "u1", Timestamp: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Streak.Current)
}

func TestExecute_LoadErrorIsNotReplacedByFreshAggregate(t *testing.T) {
	f := newFixture(t, false)
	f.store.loadErr = shared.WrapError("store", "Load", shared.ErrServiceUnavailable, "down", errors.New("dial tcp"))

	_, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID: "u1", ModuleID: "foundation", LessonID: "a", Completed: true,
	})

	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Zero(t, f.store.saves)
	assert.Empty(t, f.pub.events)
}

func TestExecute_CorruptSnapshotIsReturned(t *testing.T) {
	f := newFixture(t, false)
	f.store.loadErr = shared.NewDomainError("store", "Load", shared.ErrCorruptSnapshot, "bad json")

	_, err := f.coord.TouchStreak(context.Background(), TouchStreakCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrCorruptSnapshot)
	assert.Zero(t, f.store.saves)
}

func TestExecute_VersionConflict(t *testing.T) {
	f := newFixture(t, false)
	f.lesson(t, "foundation", 1, true)
	f.pub.reset()

	// Another writer saves between our load and save.
	f.store.beforeSave = func() {
		f.store.beforeSave = nil
		other, err := f.mem.Load(context.Background(), "u1")
		require.NoError(t, err)
		require.NoError(t, f.mem.Save(context.Background(), other, other.Version))
	}

	_, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID: "u1", ModuleID: "foundation", LessonID: "lesson-2", Completed: true,
	})

	assert.True(t, shared.IsConcurrentModification(err))
	assert.Empty(t, f.pub.events)

	stored, err := f.mem.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, 1, stored.Modules["foundation"].CompletedLessons())
}

func TestExecute_PublishFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture(t, false)
	f.pub.err = errors.New("sink down")

	res := f.lesson(t, "foundation", 1, true)

	assert.True(t, res.Persisted)
	assert.Len(t, f.pub.events, 1)
}

func TestExecute_CompletingCurriculum(t *testing.T) {
	f := newFixture(t, false)
	for _, m := range f.coord.Topology().Modules() {
		for i := 1; i <= m.Lessons; i++ {
			f.lesson(t, m.ID, i, true)
		}
	}

	stored, err := f.mem.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CompletedModules())
	assert.True(t, stored.HasAchievement(progress.AchievementCurriculumCompleted))

	var ids []string
	for _, a := range stored.Achievements {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{
		"module_foundation_completed",
		"module_advanced_completed",
		"module_expert_completed",
		progress.AchievementCurriculumCompleted,
	}, ids)
}

func TestExecute_BackdatedCommandKeepsLastUpdated(t *testing.T) {
	f := newFixture(t, false)
	f.now = day1.Add(48 * time.Hour)
	f.lesson(t, "foundation", 1, true)

	res, err := f.coord.RecordLessonActivity(context.Background(), RecordLessonActivityCommand{
		UserID:    "u1",
		ModuleID:  "foundation",
		LessonID:  "lesson-2",
		Completed: true,
		Timestamp: day1,
	})
	require.NoError(t, err)
	require.True(t, res.Persisted)

	stored, err := f.mem.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, stored.LastUpdated.Equal(day1.Add(48*time.Hour)))
	assert.Equal(t, 2, stored.Modules["foundation"].CompletedLessons())
}

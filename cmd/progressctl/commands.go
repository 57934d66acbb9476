package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/app"
	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/application/query"
	"github.com/alem-hub/learning-progress/internal/domain/curriculum"
	"github.com/alem-hub/learning-progress/internal/domain/progress"
	"github.com/alem-hub/learning-progress/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a learner's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.GetProgress.Handle(ctx, query.GetProgressQuery{UserID: args[0]})
				if err != nil {
					return err
				}
				return g.render(cmd.OutOrStdout(), res, func(w io.Writer) {
					printProgress(w, res, a.Topology)
				})
			})
		},
	}
}

func printProgress(w io.Writer, res *query.GetProgressResult, topo *curriculum.Topology) {
	p := res.Progress
	if !res.Stored {
		fmt.Fprintf(w, "%s: no progress recorded\n", p.UserID)
	}
	fmt.Fprintf(w, "user %s  version %d  overall %d%%\n", p.UserID, p.Version, res.OverallPercent)

	for _, m := range topo.Modules() {
		st, ok := p.Modules[m.ID]
		if !ok {
			continue
		}
		state := "open"
		switch {
		case st.Completed:
			state = "completed"
		case st.Locked:
			state = "locked"
		}
		fmt.Fprintf(w, "  module %-12s %3d%%  %s\n", m.ID, st.Progress, state)
	}
	for _, c := range topo.Certifications() {
		if st, ok := p.Certifications[c.Level]; ok && st.Score != nil {
			fmt.Fprintf(w, "  cert   %-12s best %.1f  attempts %d  achieved %t\n", c.Level, *st.Score, st.AttemptCount, st.Achieved)
		}
	}
	for _, a := range p.Achievements {
		fmt.Fprintf(w, "  achievement %s (%s)\n", a.ID, a.Category)
	}
	fmt.Fprintf(w, "  streak %d (longest %d)\n", p.Streak.Current, p.Streak.Longest)
}

func newExportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "export <user-id>",
		Short: "Export a learner's analytics summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				dto, err := a.ExportAnalytics.Handle(ctx, query.ExportAnalyticsQuery{UserID: args[0]})
				if err != nil {
					return err
				}
				return g.render(cmd.OutOrStdout(), dto, func(w io.Writer) {
					fmt.Fprintf(w, "user %s  overall %d%%  modules %d/%d  streak %d/%d  time %s\n",
						dto.UserID, dto.OverallProgress, dto.CompletedModules, dto.TotalModules,
						dto.CurrentStreak, dto.LongestStreak,
						time.Duration(dto.TotalTimeSeconds*float64(time.Second)).Round(time.Second),
					)
					ids := make([]string, 0, len(dto.ModuleProgress))
					for id := range dto.ModuleProgress {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					for _, id := range ids {
						fmt.Fprintf(w, "  %s %d%%\n", id, dto.ModuleProgress[id])
					}
				})
			})
		},
	}
}

func newCurriculumCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "curriculum",
		Short: "Print the curriculum the engine tracks against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := g.curriculum
			if path == "" {
				if cfg, err := config.Load(); err == nil {
					path = cfg.Engine.CurriculumPath
				}
			}
			topo, err := curriculum.LoadOrDefault(path)
			if err != nil {
				return err
			}
			view := struct {
				Modules        []curriculum.Module        `json:"modules" yaml:"modules"`
				Certifications []curriculum.Certification `json:"certifications" yaml:"certifications"`
			}{topo.Modules(), topo.Certifications()}

			return g.render(cmd.OutOrStdout(), view, func(w io.Writer) {
				for _, m := range view.Modules {
					next := m.Next
					if next == "" {
						next = "-"
					}
					fmt.Fprintf(w, "module %-12s lessons %3d  next %s\n", m.ID, m.Lessons, next)
				}
				for _, c := range view.Certifications {
					fmt.Fprintf(w, "cert   %s\n", c.Level)
				}
			})
		},
	}
}

func newMigrateCmd(g *globals) *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations for the configured store",
		Long: "Apply schema migrations for the configured store. For postgres the\n" +
			"migration status is listed and --rollback reverts the latest one.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.DriverPostgres {
				return g.migratePostgres(cmd, cfg, rollback)
			}
			if rollback {
				return fmt.Errorf("--rollback is only supported for the postgres store")
			}

			// Opening a SQL store applies pending migrations.
			return g.run(cmd, func(_ context.Context, a *app.App) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.Config.Store.Driver)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "revert the latest postgres migration")
	return cmd
}

func (g *globals) migratePostgres(cmd *cobra.Command, cfg *config.Config, rollback bool) error {
	ctx := cmd.Context()
	conn, err := postgres.NewConnection(ctx, app.PostgresConfig(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	m := postgres.NewMigrator(conn)
	w := cmd.OutOrStdout()
	if rollback {
		if err := m.Rollback(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "rolled back latest migration")
	} else {
		applied, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "applied %d migration(s)\n", applied)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	return g.render(w, status, func(w io.Writer) {
		for _, mig := range status {
			state := "pending"
			if mig.IsApplied {
				state = "applied " + mig.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "  %03d %-32s %s\n", mig.Version, mig.Name, state)
		}
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

func newLessonCmd(g *globals) *cobra.Command {
	var (
		moduleID  string
		lessonID  string
		completed bool
		spent     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lesson <user-id>",
		Short: "Record lesson activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				var res *command.RecordLessonActivityResult
				err := withConflictRetry(ctx, a, func(ctx context.Context) error {
					var err error
					res, err = a.Coordinator.RecordLessonActivity(ctx, command.RecordLessonActivityCommand{
						UserID:    args[0],
						ModuleID:  moduleID,
						LessonID:  lessonID,
						Completed: completed,
						TimeSpent: spent,
					})
					return err
				})
				if err != nil {
					return err
				}
				return g.renderOutcome(cmd.OutOrStdout(), res.Outcome, res.Lesson,
					fmt.Sprintf("module %s at %d%%", moduleID, res.ModuleProgress))
			})
		},
	}
	cmd.Flags().StringVar(&moduleID, "module", "", "module id")
	cmd.Flags().StringVar(&lessonID, "lesson", "", "lesson id")
	cmd.Flags().BoolVar(&completed, "completed", false, "mark the lesson completed")
	cmd.Flags().DurationVar(&spent, "time", 0, "time spent, e.g. 15m")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("lesson")
	return cmd
}

func newCertifyCmd(g *globals) *cobra.Command {
	var (
		level  string
		score  float64
		passed bool
	)

	cmd := &cobra.Command{
		Use:   "certify <user-id>",
		Short: "Record a certification attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				var res *command.RecordCertificationAttemptResult
				err := withConflictRetry(ctx, a, func(ctx context.Context) error {
					var err error
					res, err = a.Coordinator.RecordCertificationAttempt(ctx, command.RecordCertificationAttemptCommand{
						UserID: args[0],
						Level:  level,
						Score:  score,
						Passed: passed,
					})
					return err
				})
				if err != nil {
					return err
				}
				details := map[string]any{"achieved_now": res.AchievedNow, "best_score": res.BestScore}
				return g.renderOutcome(cmd.OutOrStdout(), res.Outcome, details,
					fmt.Sprintf("level %s best score %.1f", level, res.BestScore))
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "certification level")
	cmd.Flags().Float64Var(&score, "score", 0, "attempt score")
	cmd.Flags().BoolVar(&passed, "passed", false, "the attempt passed")
	_ = cmd.MarkFlagRequired("level")
	return cmd
}

func newPlaygroundCmd(g *globals) *cobra.Command {
	var (
		step     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "playground <user-id> <action>",
		Short: "Record a playground action",
		Long: "Record a playground action. Actions: session_completed, project_created,\n" +
			"code_executed, methodology_step_completed (with --step), time_spent (with --duration).",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				var res *command.RecordPlaygroundActionResult
				err := withConflictRetry(ctx, a, func(ctx context.Context) error {
					var err error
					res, err = a.Coordinator.RecordPlaygroundAction(ctx, command.RecordPlaygroundActionCommand{
						UserID:   args[0],
						Kind:     progress.PlaygroundActionKind(args[1]),
						Step:     step,
						Duration: duration,
					})
					return err
				})
				if err != nil {
					return err
				}
				summary := ""
				if !res.Counted {
					summary = fmt.Sprintf("action %q is not recognized", args[1])
				}
				return g.renderOutcome(cmd.OutOrStdout(), res.Outcome, map[string]bool{"counted": res.Counted}, summary)
			})
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "methodology step name")
	cmd.Flags().DurationVar(&duration, "duration", 0, "time spent, e.g. 10m")
	return cmd
}

func newGrantCmd(g *globals) *cobra.Command {
	var (
		title       string
		description string
		category    string
	)

	cmd := &cobra.Command{
		Use:   "grant <user-id> <achievement-id>",
		Short: "Grant an achievement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				var res *command.GrantAchievementResult
				err := withConflictRetry(ctx, a, func(ctx context.Context) error {
					var err error
					res, err = a.Coordinator.GrantAchievement(ctx, command.GrantAchievementCommand{
						UserID:        args[0],
						AchievementID: args[1],
						Title:         title,
						Description:   description,
						Category:      progress.AchievementCategory(category),
					})
					return err
				})
				if err != nil {
					return err
				}
				summary := fmt.Sprintf("achievement %s earned %s", res.Achievement.ID, res.Achievement.EarnedAt.Format(time.RFC3339))
				return g.renderOutcome(cmd.OutOrStdout(), res.Outcome, res.Achievement, summary)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "display title")
	cmd.Flags().StringVar(&description, "description", "", "display description")
	cmd.Flags().StringVar(&category, "category", "", "category: certification|learning|practice|general (default derived from id)")
	return cmd
}

func newTouchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <user-id>",
		Short: "Record engagement for the streak without other activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				var res *command.TouchStreakResult
				err := withConflictRetry(ctx, a, func(ctx context.Context) error {
					var err error
					res, err = a.Coordinator.TouchStreak(ctx, command.TouchStreakCommand{UserID: args[0]})
					return err
				})
				if err != nil {
					return err
				}
				return g.renderOutcome(cmd.OutOrStdout(), res.Outcome, res.Streak,
					fmt.Sprintf("streak %d (longest %d)", res.Streak.Current, res.Streak.Longest))
			})
		},
	}
}

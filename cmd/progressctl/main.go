// Package main is progressctl, an operator CLI for the progress engine. It
// opens the configured snapshot store directly, so commands run the same
// coordinator the HTTP service does.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/app"
	"github.com/alem-hub/learning-progress/internal/application/command"
	"github.com/alem-hub/learning-progress/internal/domain/shared"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/retry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals holds the persistent flags. Empty values keep the environment
// configuration.
type globals struct {
	driver     string
	sqlitePath string
	curriculum string
	strict     bool
	output     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Inspect and update learner progress",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.driver, "store", "", "store driver: memory|sqlite|postgres|redis (default from STORE_DRIVER)")
	root.PersistentFlags().StringVar(&g.sqlitePath, "sqlite-path", "", "sqlite database file (default from SQLITE_PATH)")
	root.PersistentFlags().StringVar(&g.curriculum, "curriculum", "", "curriculum YAML file (default from ENGINE_CURRICULUM_PATH)")
	root.PersistentFlags().BoolVar(&g.strict, "strict", false, "reject unknown module, lesson and certification ids")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text|json|yaml")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log at info level to stderr")

	root.AddCommand(
		newShowCmd(g),
		newExportCmd(g),
		newLessonCmd(g),
		newCertifyCmd(g),
		newPlaygroundCmd(g),
		newGrantCmd(g),
		newTouchCmd(g),
		newCurriculumCmd(g),
		newMigrateCmd(g),
	)
	return root
}

// config loads configuration and applies flag overrides.
func (g *globals) config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if g.driver != "" {
		cfg.Store.Driver = g.driver
	}
	if g.sqlitePath != "" {
		cfg.SQLite.Path = g.sqlitePath
	}
	if g.curriculum != "" {
		cfg.Engine.CurriculumPath = g.curriculum
	}
	if g.strict {
		cfg.Engine.StrictReferences = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open wires the engine from the effective configuration.
func (g *globals) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}

	level := logger.LevelWarn
	if g.verbose {
		level = logger.LevelInfo
	}
	log := logger.New(logger.Options{
		Output: cmd.ErrOrStderr(),
		Level:  level,
		Format: "console",
	})

	return app.New(cmd.Context(), cfg, log)
}

// run opens the engine, calls fn and closes the engine.
func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := g.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

// withConflictRetry re-runs a command that lost an optimistic-lock race.
func withConflictRetry(ctx context.Context, a *app.App, fn func(ctx context.Context) error) error {
	return retry.ConflictRetrier(a.Config.Engine.ConflictRetries, shared.IsConcurrentModification).Do(ctx, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTPUT
// ══════════════════════════════════════════════════════════════════════════════

// render writes v as JSON or YAML, or calls text for the text format.
func (g *globals) render(w io.Writer, v any, text func(w io.Writer)) error {
	switch strings.ToLower(g.output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", g.output)
	}
}

// outcomeView is the structured form of a command result.
type outcomeView struct {
	UserID    string   `json:"user_id" yaml:"user_id"`
	Version   int64    `json:"version" yaml:"version"`
	Persisted bool     `json:"persisted" yaml:"persisted"`
	Ignored   bool     `json:"ignored" yaml:"ignored"`
	Events    []string `json:"events" yaml:"events"`
	Details   any      `json:"details,omitempty" yaml:"details,omitempty"`
}

func (g *globals) renderOutcome(w io.Writer, out command.Outcome, details any, summary string) error {
	view := outcomeView{
		UserID:    out.UserID,
		Version:   out.Version,
		Persisted: out.Persisted,
		Ignored:   out.Ignored,
		Events:    make([]string, 0, len(out.Events)),
		Details:   details,
	}
	for _, e := range out.Events {
		view.Events = append(view.Events, string(e.EventType()))
	}

	return g.render(w, view, func(w io.Writer) {
		status := "saved"
		switch {
		case out.Ignored:
			status = "ignored (unknown reference)"
		case !out.Persisted:
			status = "no change"
		}
		fmt.Fprintf(w, "%s: %s, version %d\n", out.UserID, status, out.Version)
		if summary != "" {
			fmt.Fprintln(w, summary)
		}
		for _, e := range view.Events {
			fmt.Fprintf(w, "  event %s\n", e)
		}
	})
}

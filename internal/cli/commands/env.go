// Package commands implements the tabload subcommands.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"tabload/internal/config"
	"tabload/internal/ingest"
	"tabload/internal/report"
)

// Env is what the root command prepares for every subcommand.
type Env struct {
	Config     *config.Config
	ConfigFile string
	Issues     []config.Issue
	Logger     *slog.Logger
	Renderer   *report.Renderer

	// Options are passed to every Ingestor; tests use them to swap storage.
	Options []ingest.Option
}

// Ingestor returns an Ingestor for the loaded configuration.
func (e *Env) Ingestor() *ingest.Ingestor {
	return ingest.New(*e.Config, e.Logger, e.Options...)
}

type envKey struct{}

// WithEnv stores env in ctx.
func WithEnv(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

var errNoEnv = errors.New("commands: configuration was not loaded")

// EnvFrom returns the Env stored by WithEnv.
func EnvFrom(ctx context.Context) (*Env, error) {
	if e, ok := ctx.Value(envKey{}).(*Env); ok && e.Config != nil {
		if e.Logger == nil {
			e.Logger = slog.New(slog.DiscardHandler)
		}
		if e.Renderer == nil {
			e.Renderer = report.NewRenderer(os.Stdout, report.ModeAuto)
		}
		return e, nil
	}
	return nil, errNoEnv
}

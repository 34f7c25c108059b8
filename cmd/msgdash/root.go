package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Akgit99/message-dash-f/internal/app"
	"github.com/Akgit99/message-dash-f/internal/config"
	"github.com/Akgit99/message-dash-f/internal/profile"
)

const startTimeout = 15 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "msgdash",
		Short:         "Terminal client for the msgdash chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("profile", "", "profile name (overrides config default)")
	cmd.PersistentFlags().String("config", "", "config file (default ~/.msgdash/config.toml)")

	cmd.AddCommand(newChatCmd(), newSignupCmd())
	return cmd
}

// loadParams resolves config and profile from .env, the config file, the
// environment and flags, in that order of increasing precedence.
func loadParams(cmd *cobra.Command) (app.Params, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return app.Params{}, err
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return app.Params{}, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return app.Params{}, fmt.Errorf("config %s: %w", path, err)
	}

	flagProfile, _ := cmd.Flags().GetString("profile")
	name := profile.Resolve(flagProfile, cfg)
	if err := profile.ValidateName(name); err != nil {
		return app.Params{}, err
	}
	return app.Params{Profile: name, Config: cfg, Interactive: true}, nil
}

// startApp builds and starts the fx application. The returned stop func
// must be called before exit.
func startApp(cmd *cobra.Command) (*app.Client, func(), error) {
	params, err := loadParams(cmd)
	if err != nil {
		return nil, nil, err
	}

	var client *app.Client
	fxApp := fx.New(
		app.Module(params),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&client),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), startTimeout)
	defer cancel()
	if err := fxApp.Start(ctx); err != nil {
		return nil, nil, err
	}

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		if err := fxApp.Stop(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: shutdown: %v\n", err)
		}
	}
	return client, stop, nil
}

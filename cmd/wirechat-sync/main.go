package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/app"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/log"
	"github.com/vovakirdan/wirechat-sync/internal/reconciler"
)

type rootOptions struct {
	configPath string
	logLevel   string
	dbPath     string

	cfg    config.Config
	logger *zerolog.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "wirechat-sync",
		Short:        "Headless session and presence sync client",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to the local database")

	root.AddCommand(
		newRunCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newStatusCommand(opts),
	)
	return root
}

func (o *rootOptions) load() error {
	o.logger = log.New(o.logLevel)

	cfg, path, err := config.Load(o.logger, o.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.UpdateFrom(config.Config{LogLevel: o.logLevel, DatabasePath: o.dbPath})
	o.cfg = cfg
	o.logger = log.New(cfg.LogLevel)
	o.logger.Debug().Str("config_path", path).Msg("config loaded")
	return nil
}

// start builds the application and restores any persisted session.
func (o *rootOptions) start(ctx context.Context) (*app.App, error) {
	application, err := app.New(o.cfg, o.logger)
	if err != nil {
		return nil, err
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Close()
		return nil, err
	}
	return application, nil
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the session in sync until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			application.SetNotifier(func(message string) {
				opts.logger.Warn().Msg(message)
			})
			unsub := application.Reconciler().Subscribe(func(ch reconciler.Change) {
				event := opts.logger.Info().Str("kind", string(ch.Kind))
				switch ch.Kind {
				case reconciler.ChangeFriendRequest:
					if ch.Request != nil {
						event = event.Str("request_id", ch.Request.ID).Str("status", string(ch.Request.Status))
					}
				case reconciler.ChangeUnread:
					event = event.Int("unread", ch.Unread)
				case reconciler.ChangeNotifications:
					event = event.Int("notifications", ch.Notifications)
				}
				event.Msg("state changed")
			})
			defer unsub()

			snap := application.Session()
			if !snap.IsAuthenticated() {
				opts.logger.Warn().Msg("not logged in, run `wirechat-sync login` first")
			} else {
				opts.logger.Info().Str("user_id", snap.UserID()).Msg("session active")
			}

			<-ctx.Done()
			opts.logger.Info().Msg("shutting down")
			return nil
		},
	}
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			user, err := application.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", user.DisplayName(), user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the persisted session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			if !application.Session().IsAuthenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			if err := application.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session, unread and friend request state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			out := cmd.OutOrStdout()
			snap := application.Session()
			fmt.Fprintf(out, "Session: %s\n", snap.State)
			if !snap.IsAuthenticated() {
				return nil
			}
			fmt.Fprintf(out, "User: %s (%s)\n", snap.User.DisplayName(), snap.User.Email)

			rec := application.Reconciler()
			if err := rec.PollUnread(ctx); err != nil {
				fmt.Fprintf(out, "Unread: unavailable (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Unread: %d\n", rec.Unread())
			}
			if err := rec.Hydrate(ctx); err != nil {
				fmt.Fprintf(out, "Friend requests: unavailable (%v)\n", err)
				return nil
			}
			for _, req := range rec.FriendRequests() {
				fmt.Fprintf(out, "  %s %s -> %s [%s]\n", req.ID, req.SenderID, req.ReceiverID, req.Status)
			}
			return nil
		},
	}
}

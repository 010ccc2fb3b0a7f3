package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/inbox/internal/daemon"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	var sessionFlag string

	rootCmd := &cobra.Command{
		Use:           "inboxd",
		Short:         "Per-session messaging daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionName := session.Resolve(sessionFlag)
			if err := session.ValidateName(sessionName); err != nil {
				return err
			}

			app := fx.New(
				fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: l.Named("fx")}
				}),
				daemon.Module(daemon.Params{SessionName: sessionName}),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	rootCmd.Flags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace]",
		Short: "Stream daemon events, optionally filtered by kind prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace := ""
			if len(args) == 1 {
				namespace = args[0]
			}

			c, _, err := dial()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = c.Watch(ctx, namespace, func(evt map[string]any) error {
				if opts.json {
					line, err := json.Marshal(evt)
					if err != nil {
						return err
					}
					fmt.Println(string(line))
					return nil
				}
				at := time.UnixMilli(int64(toFloat(evt["occurred_at_unix_ms"]))).Format(time.TimeOnly)
				payload, _ := json.Marshal(evt["payload"])
				fmt.Printf("%s %-28s %s\n", at, text(evt["kind"]), payload)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

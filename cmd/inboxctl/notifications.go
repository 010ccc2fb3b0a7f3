package main

import (
	"fmt"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/spf13/cobra"
)

func notificationsCmd() *cobra.Command {
	var unread, refresh bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List cached notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"unread_only": unread, "refresh": refresh}
			return call(api.MethodListNotifications, req, func(r map[string]any) {
				items := list(r, "notifications")
				if len(items) == 0 {
					fmt.Println("No notifications.")
				}
				for _, n := range items {
					mark := " "
					if n["is_read"] == false {
						mark = "*"
					}
					fmt.Printf("%s %-8s %-16s %s: %s\n", mark, text(n["id"]), text(n["type"]), text(n["title"]), text(n["body"]))
				}
				fmt.Printf("%s unread", text(r["unread"]))
				if r["stale"] == true {
					fmt.Print(" (cached, refresh failed)")
				}
				fmt.Println()
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "poll the backend first")
	return cmd
}

func ackCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ack [notification-id]",
		Short: "Mark notifications read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"all": all}
			switch {
			case len(args) == 1:
				req["id"] = args[0]
			case !all:
				return fmt.Errorf("a notification id or --all is required")
			}
			return call(api.MethodMarkNotificationRead, req, func(r map[string]any) {
				fmt.Printf("ok, %s unread\n", text(r["unread"]))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every notification read")
	return cmd
}

package main

import (
	"fmt"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection state and local counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodGetStatus, nil, func(r map[string]any) {
				fmt.Printf("Session:    %s\n", text(r["session"]))
				fmt.Printf("State:      %s\n", text(r["state"]))
				user := text(r["user_id"])
				if user == "" {
					user = "(none, run inboxctl login)"
				}
				fmt.Printf("User:       %s\n", user)
				if at := text(r["last_connected_at"]); at != "" {
					fmt.Printf("Connected:  %s\n", at)
				}
				fmt.Printf("Messages:   %s (%s unread)\n", text(r["messages"]), text(r["unread_messages"]))
				fmt.Printf("Outbox:     %s pending\n", text(r["pending_outbox"]))
				fmt.Printf("Notices:    %s (%s unread)\n", text(r["notifications"]), text(r["unread_notifications"]))
				fmt.Printf("Uptime:     %sms\n", text(r["uptime_ms"]))
			})
		},
	}
}

func printState(r map[string]any) {
	fmt.Printf("%s (user %s)\n", text(r["state"]), text(r["user_id"]))
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Open the message socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodConnect, nil, printState)
		},
	}
}

func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Close the message socket and stop reconnecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodDisconnect, nil, printState)
		},
	}
}

func loginCmd() *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Set the user id the session acts as",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodLogin, map[string]any{"user_id": args[0], "connect": connect}, printState)
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect right after saving the user id")
	return cmd
}

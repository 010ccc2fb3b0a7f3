package main

import (
	"fmt"
	"strings"

	"github.com/matheus3301/inbox/internal/api"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var greeting bool
	cmd := &cobra.Command{
		Use:   "send <user-id> <text...>",
		Short: "Queue a direct message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"to_user_id": args[0],
				"content":    strings.Join(args[1:], " "),
				"greeting":   greeting,
			}
			return call(api.MethodSendMessage, req, func(r map[string]any) {
				fmt.Printf("queued %s\n", text(r["client_msg_id"]))
			})
		},
	}
	cmd.Flags().BoolVar(&greeting, "greeting", false, "send through the greeting endpoint")
	return cmd
}

func printMessages(r map[string]any) {
	msgs := list(r, "messages")
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		dir := "<-"
		if m["outgoing"] == true {
			dir = "->"
		}
		read := " "
		if m["is_read"] == false {
			read = "*"
		}
		fmt.Printf("%s %s %s %-8s %s\n", text(m["created_at"]), dir, read, text(m["status"]), text(m["content"]))
	}
}

func messagesCmd() *cobra.Command {
	var (
		conversation string
		peer         string
		limit        int
		before       int64
	)
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List mirrored messages of a conversation or peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversation == "" && peer == "" {
				return fmt.Errorf("--conversation or --peer is required")
			}
			req := map[string]any{
				"conversation_id": conversation,
				"peer_user_id":    peer,
				"limit":           limit,
				"before_ms":       before,
			}
			return call(api.MethodListMessages, req, printMessages)
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&peer, "peer", "", "peer user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages")
	cmd.Flags().Int64Var(&before, "before", 0, "only messages older than this unix ms")
	return cmd
}

func conversationsCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodListConversations, map[string]any{"local": local}, func(r map[string]any) {
				convs := list(r, "conversations")
				if len(convs) == 0 {
					fmt.Println("No conversations.")
					return
				}
				for _, c := range convs {
					fmt.Printf("%-12s %-12s %3s unread  %s\n",
						text(c["conversation_id"]), text(c["other_user_id"]), text(c["unread_count"]), text(c["last_message"]))
				}
				fmt.Printf("(%s)\n", text(r["source"]))
			})
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "use the local mirror only")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		peer   string
		remote bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search message content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"query":        strings.Join(args, " "),
				"peer_user_id": peer,
				"remote":       remote,
				"limit":        limit,
			}
			return call(api.MethodSearchMessages, req, printMessages)
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "restrict to one peer")
	cmd.Flags().BoolVar(&remote, "remote", false, "search on the backend")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results")
	return cmd
}

func unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show the unread message count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodGetUnreadCount, nil, func(r map[string]any) {
				fmt.Printf("%s unread (%s)\n", text(r["unread_count"]), text(r["source"]))
			})
		},
	}
}

func limitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show messaging quotas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodGetLimits, nil, func(r map[string]any) {
				outputJSON(r["limits"])
			})
		},
	}
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(api.MethodMarkConversationRead, map[string]any{"conversation_id": args[0]}, func(r map[string]any) {
				fmt.Printf("conversation %s: %s messages marked read\n", text(r["conversation_id"]), text(r["changed"]))
			})
		},
	}
}

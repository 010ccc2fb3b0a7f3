package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/inbox/internal/ctl"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/spf13/cobra"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	session string
	json    bool
}

var opts globals

func main() {
	rootCmd := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Control a running inboxd session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.session, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		statusCmd(),
		connectCmd(),
		disconnectCmd(),
		loginCmd(),
		sendCmd(),
		messagesCmd(),
		conversationsCmd(),
		searchCmd(),
		unreadCmd(),
		limitsCmd(),
		readCmd(),
		notificationsCmd(),
		ackCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the daemon of the selected session.
func dial() (*ctl.Client, string, error) {
	name := session.Resolve(opts.session)
	if err := session.ValidateName(name); err != nil {
		return nil, "", err
	}
	c, err := ctl.New(session.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, name, nil
}

// call runs one unary method and hands the reply to render, or prints it as
// JSON when --json is set.
func call(method string, req map[string]any, render func(map[string]any)) error {
	c, _, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.Call(ctx, method, req)
	if err != nil {
		return err
	}
	if opts.json || render == nil {
		outputJSON(resp)
		return nil
	}
	render(resp)
	return nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func list(resp map[string]any, key string) []map[string]any {
	raw, _ := resp[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// text renders a reply field, printing whole numbers without a fraction.
func text(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

package session

import (
	"os"

	"github.com/matheus3301/inbox/internal/config"
)

const (
	DefaultSessionName = "main"

	// EnvSession names the session when no flag is given.
	EnvSession = "INBOX_SESSION"
)

// Resolve picks the active session name. The --session flag wins, then
// $INBOX_SESSION, then default_session from config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvSession); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

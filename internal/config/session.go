package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"
)

// Session represents a per-session sessions/<name>/session.toml.
type Session struct {
	Server        ServerConfig        `toml:"server"`
	Socket        SocketConfig        `toml:"socket"`
	Notifications NotificationsConfig `toml:"notifications"`
	Outbox        OutboxConfig        `toml:"outbox"`
	Metrics       MetricsConfig       `toml:"metrics"`
	Log           LogConfig           `toml:"log"`
}

// ServerConfig locates the forum backend and the signed-in user.
type ServerConfig struct {
	Host   string `toml:"host"`
	Secure bool   `toml:"secure"`
	UserID string `toml:"user_id"`
}

type SocketConfig struct {
	HeartbeatIntervalMs  int `toml:"heartbeat_interval_ms"`
	ReconnectDelayMs     int `toml:"reconnect_delay_ms"`
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
	WriteTimeoutMs       int `toml:"write_timeout_ms"`
	PreAuthBuffer        int `toml:"pre_auth_buffer"`
}

type NotificationsConfig struct {
	PollIntervalMs int `toml:"poll_interval_ms"`
}

type OutboxConfig struct {
	PollIntervalMs int `toml:"poll_interval_ms"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultSession returns the settings used when no session file exists.
func DefaultSession() *Session {
	return &Session{
		Server: ServerConfig{Secure: true},
		Socket: SocketConfig{
			HeartbeatIntervalMs:  30000,
			ReconnectDelayMs:     3000,
			MaxReconnectAttempts: 5,
			WriteTimeoutMs:       10000,
			PreAuthBuffer:        64,
		},
		Notifications: NotificationsConfig{PollIntervalMs: 30000},
		Outbox:        OutboxConfig{PollIntervalMs: 500},
		Log:           LogConfig{Level: "info"},
	}
}

// LoadSession reads a session file on top of the defaults. A missing file
// yields the defaults.
func LoadSession(path string) (*Session, error) {
	cfg := DefaultSession()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// SaveSession writes a session file, creating parent dirs as needed.
func SaveSession(path string, cfg *Session) error {
	return writeTOML(path, cfg)
}

// Validate rejects values the socket client cannot run with.
func (s *Session) Validate() error {
	switch {
	case s.Socket.HeartbeatIntervalMs <= 0:
		return fmt.Errorf("socket.heartbeat_interval_ms must be positive")
	case s.Socket.ReconnectDelayMs < 0:
		return fmt.Errorf("socket.reconnect_delay_ms must not be negative")
	case s.Socket.MaxReconnectAttempts < 0:
		return fmt.Errorf("socket.max_reconnect_attempts must not be negative")
	case s.Socket.PreAuthBuffer < 0:
		return fmt.Errorf("socket.pre_auth_buffer must not be negative")
	case s.Notifications.PollIntervalMs <= 0:
		return fmt.Errorf("notifications.poll_interval_ms must be positive")
	case s.Outbox.PollIntervalMs <= 0:
		return fmt.Errorf("outbox.poll_interval_ms must be positive")
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (s SocketConfig) HeartbeatInterval() time.Duration { return ms(s.HeartbeatIntervalMs) }
func (s SocketConfig) ReconnectDelay() time.Duration    { return ms(s.ReconnectDelayMs) }
func (s SocketConfig) WriteTimeout() time.Duration      { return ms(s.WriteTimeoutMs) }

func (n NotificationsConfig) PollInterval() time.Duration { return ms(n.PollIntervalMs) }
func (o OutboxConfig) PollInterval() time.Duration        { return ms(o.PollIntervalMs) }

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/inbox/internal/config"
	"github.com/matheus3301/inbox/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer serves the collector over HTTP when metrics.addr is set.
type MetricsServer struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates the metrics endpoint. An empty address leaves it
// disabled.
func NewMetricsServer(cfg *config.Session, c *metrics.Collector, logger *zap.Logger) *MetricsServer {
	return &MetricsServer{
		addr: cfg.Metrics.Addr,
		srv: &http.Server{
			Handler:           c.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether an address is configured.
func (m *MetricsServer) Enabled() bool {
	return m.addr != ""
}

// Start binds the address and serves in the background.
func (m *MetricsServer) Start() error {
	if !m.Enabled() {
		return nil
	}
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", m.addr, err)
	}
	m.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}

// Package metrics exposes socket and notification activity as Prometheus
// metrics, fed from the event bus.
package metrics

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/notify"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/wsclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns a private registry and updates it from bus events.
type Collector struct {
	registry *prometheus.Registry
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	FramesReceived      *prometheus.CounterVec
	FramesDropped       *prometheus.CounterVec
	ReconnectsScheduled prometheus.Counter
	GaveUp              prometheus.Counter
	ServerErrors        prometheus.Counter
	MessagesSent        prometheus.Counter
	SendFailures        prometheus.Counter
	ConnectionState     *prometheus.GaugeVec
	UnreadNotifications prometheus.Gauge
}

var allStates = []status.State{
	status.Disconnected,
	status.Connecting,
	status.Authenticating,
	status.Connected,
	status.Retrying,
	status.GaveUp,
}

// NewCollector registers the inbox collectors on a fresh registry.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger,

		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_socket_frames_received_total",
				Help: "Frames decoded from the message socket",
			},
			[]string{"type"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbox_socket_frames_dropped_total",
				Help: "Inbound frames dropped without dispatch",
			},
			[]string{"reason"},
		),
		ReconnectsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_socket_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after an unexpected close",
		}),
		GaveUp: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_socket_gave_up_total",
			Help: "Times the reconnect budget was exhausted",
		}),
		ServerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_socket_server_errors_total",
			Help: "error frames received from the server",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_outbox_sent_total",
			Help: "Outbox messages confirmed by the backend",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_outbox_failed_total",
			Help: "Outbox messages the backend rejected",
		}),
		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inbox_socket_state",
				Help: "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		UnreadNotifications: factory.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_notifications_unread",
			Help: "Unread notifications in the local cache",
		}),
	}
	c.setState(status.Disconnected)
	return c
}

// Registry returns the registry backing the collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start consumes bus events until ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context, b *bus.Bus) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	ch, unsub := b.Subscribe("", 512)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.Observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming events.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Observe applies one bus event to the collectors.
func (c *Collector) Observe(evt bus.Event) {
	switch evt.Kind {
	case bus.KindFrameReceived:
		if p, ok := evt.Payload.(wsclient.FrameEvent); ok {
			c.FramesReceived.WithLabelValues(wsclient.KnownType(p.Type)).Inc()
		}
	case bus.KindFrameDropped:
		if p, ok := evt.Payload.(wsclient.FrameEvent); ok {
			c.FramesDropped.WithLabelValues(p.Reason).Inc()
		}
	case bus.KindReconnectScheduled:
		c.ReconnectsScheduled.Inc()
	case bus.KindGaveUp:
		c.GaveUp.Inc()
	case bus.KindServerError:
		c.ServerErrors.Inc()
	case bus.KindSendAck:
		c.MessagesSent.Inc()
	case bus.KindSendFailed:
		c.SendFailures.Inc()
	case bus.KindStatusChanged:
		if p, ok := evt.Payload.(status.StatusChange); ok {
			c.setState(p.To)
		}
	case bus.KindNotificationsUpdated:
		if p, ok := evt.Payload.(notify.Update); ok {
			c.UnreadNotifications.Set(float64(p.Unread))
		}
	}
}

func (c *Collector) setState(current status.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}

// Handler serves /metrics from the collector registry and a /healthz liveness check.
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Package metrics exposes Prometheus instrumentation for the chat router.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metric descriptors for the chat router.
type Metrics struct {
	startTime time.Time

	messagesTotal      *prometheus.CounterVec
	messagesDropped    prometheus.Counter
	channelsLive       prometheus.Gauge
	membersOnline      prometheus.Gauge
	japanizeTotal      prometheus.Counter
	japanizeFailed     prometheus.Counter
	relayFramesIn      prometheus.Counter
	relayFramesOut     prometheus.Counter
	relayFramesBad     prometheus.Counter
	uptimeSeconds      prometheus.Gauge
	goroutines         prometheus.Gauge
}

// New creates and registers Prometheus metrics for the router.
func New(startTime time.Time) *Metrics {
	m := &Metrics{
		startTime: startTime,
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanternchat_messages_total",
			Help: "Chat lines dispatched, by channel.",
		}, []string{"channel"}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanternchat_messages_dropped_total",
			Help: "Utterances dropped with no target channel.",
		}),
		channelsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanternchat_channels",
			Help: "Number of live channels in the registry.",
		}),
		membersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanternchat_members_online",
			Help: "Number of currently connected members.",
		}),
		japanizeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanternchat_japanize_conversions_total",
			Help: "Japanize conversions attempted.",
		}),
		japanizeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanternchat_japanize_failures_total",
			Help: "Japanize conversions that failed or timed out.",
		}),
		relayFramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanternchat_relay_frames_received_total",
			Help: "Relay frames received and decoded.",
		}),
		relayFramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanternchat_relay_frames_sent_total",
			Help: "Relay frames sent.",
		}),
		relayFramesBad: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanternchat_relay_frames_malformed_total",
			Help: "Relay frames discarded as malformed.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanternchat_uptime_seconds",
			Help: "Router uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanternchat_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	prometheus.MustRegister(
		m.messagesTotal,
		m.messagesDropped,
		m.channelsLive,
		m.membersOnline,
		m.japanizeTotal,
		m.japanizeFailed,
		m.relayFramesIn,
		m.relayFramesOut,
		m.relayFramesBad,
		m.uptimeSeconds,
		m.goroutines,
	)

	return m
}

// MessageDispatched counts one delivered chat line on a channel.
func (m *Metrics) MessageDispatched(channel string) {
	m.messagesTotal.WithLabelValues(channel).Inc()
}

// MessageDropped counts one silently suppressed utterance.
func (m *Metrics) MessageDropped() { m.messagesDropped.Inc() }

// SetChannels records the live channel count.
func (m *Metrics) SetChannels(n int) { m.channelsLive.Set(float64(n)) }

// SetMembersOnline records the connected member count.
func (m *Metrics) SetMembersOnline(n int) { m.membersOnline.Set(float64(n)) }

// JapanizeConverted counts one transliteration attempt.
func (m *Metrics) JapanizeConverted() { m.japanizeTotal.Inc() }

// JapanizeFailed counts one failed transliteration.
func (m *Metrics) JapanizeFailed() { m.japanizeFailed.Inc() }

// RelayFrameIn counts one decoded inbound relay frame.
func (m *Metrics) RelayFrameIn() { m.relayFramesIn.Inc() }

// RelayFrameOut counts one sent relay frame.
func (m *Metrics) RelayFrameOut() { m.relayFramesOut.Inc() }

// RelayFrameMalformed counts one discarded malformed frame.
func (m *Metrics) RelayFrameMalformed() { m.relayFramesBad.Inc() }

// Handler returns an http.Handler that refreshes runtime gauges before
// serving the scrape.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
		m.goroutines.Set(float64(runtime.NumGoroutine()))
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// Serve starts a metrics endpoint on addr. Blocks; run in a goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

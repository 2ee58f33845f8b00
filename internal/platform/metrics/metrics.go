package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the IPTV viewer.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	playlistLoads    *prometheus.CounterVec
	channelsLoaded   prometheus.Gauge
	playbackSessions *prometheus.CounterVec
	decoderFatal     prometheus.Counter
	liveDecoders     prometheus.Gauge
	proxyRequests    *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the viewer.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iptv_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iptv_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	playlistLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_playlist_loads_total",
		Help: "Playlist load attempts by result (ok, empty, failed, stale)",
	}, []string{"result"})
	channelsLoaded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iptv_channels_loaded",
		Help: "Number of channels in the currently rendered playlist",
	})
	playbackSessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_playback_sessions_total",
		Help: "Playback sessions started by path (decoder, native, unsupported)",
	}, []string{"path"})
	decoderFatal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iptv_decoder_fatal_errors_total",
		Help: "Fatal errors reported by the HLS decoder",
	})
	liveDecoders := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "iptv_live_decoders",
		Help: "Decoder instances currently alive (0 or 1)",
	})
	proxyRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_proxy_requests_total",
		Help: "Requests served by the built-in CORS proxy by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		playlistLoads,
		channelsLoaded,
		playbackSessions,
		decoderFatal,
		liveDecoders,
		proxyRequests,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		playlistLoads:    playlistLoads,
		channelsLoaded:   channelsLoaded,
		playbackSessions: playbackSessions,
		decoderFatal:     decoderFatal,
		liveDecoders:     liveDecoders,
		proxyRequests:    proxyRequests,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObservePlaylistLoad records one playlist load with its result label.
func (m *Metrics) ObservePlaylistLoad(result string) {
	if m == nil {
		return
	}
	m.playlistLoads.WithLabelValues(result).Inc()
}

// SetChannelsLoaded sets the rendered channel count gauge.
func (m *Metrics) SetChannelsLoaded(n int) {
	if m == nil {
		return
	}
	m.channelsLoaded.Set(float64(n))
}

// IncPlaybackSessions counts a playback start on the given path.
func (m *Metrics) IncPlaybackSessions(path string) {
	if m == nil {
		return
	}
	m.playbackSessions.WithLabelValues(path).Inc()
}

// IncDecoderFatal increments the fatal decoder error counter.
func (m *Metrics) IncDecoderFatal() {
	if m == nil {
		return
	}
	m.decoderFatal.Inc()
}

// DecoderStarted and DecoderReleased track the live decoder gauge.
func (m *Metrics) DecoderStarted() {
	if m == nil {
		return
	}
	m.liveDecoders.Inc()
}

func (m *Metrics) DecoderReleased() {
	if m == nil {
		return
	}
	m.liveDecoders.Dec()
}

// IncProxyRequests counts a proxy request by outcome.
func (m *Metrics) IncProxyRequests(outcome string) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

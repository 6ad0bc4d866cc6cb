package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nearcast/internal/core/domain"
)

type PrometheusCollector struct {
	// Counters
	sessionsTotal     prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	handshakesTotal   *prometheus.CounterVec

	// Gauges
	sessionsActive prometheus.Gauge
	pairsPending   prometheus.Gauge
	peerTracked    prometheus.Gauge

	// Media plane
	framesPerSecond  prometheus.Gauge
	mediaKbps        prometheus.Gauge
	frameDropRatio   prometheus.Gauge
	linkQuality      *prometheus.GaugeVec
	datagramsIn      prometheus.Gauge
	datagramsOut     prometheus.Gauge
	datagramsDropped prometheus.Gauge
	bytesIn          prometheus.Gauge
	bytesOut         prometheus.Gauge
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nearcast_sessions_total",
			Help: "Total number of mirroring sessions established",
		}),

		heartbeatTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nearcast_heartbeat_timeouts_total",
			Help: "Total number of control connections lost to heartbeat timeout",
		}),

		handshakesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nearcast_handshakes_total",
			Help: "Pairing handshakes by decision",
		}, []string{"decision"}),

		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_sessions_active",
			Help: "Number of currently paired sessions",
		}),

		pairsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_pairs_pending",
			Help: "Number of pairing requests awaiting an operator decision",
		}),

		peerTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_peer_tracked",
			Help: "Whether the media plane currently tracks a peer endpoint (0 or 1)",
		}),

		framesPerSecond: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_frames_per_second",
			Help: "Frames moved through the media plane per second",
		}),

		mediaKbps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_kilobits_per_second",
			Help: "Media plane throughput in kilobits per second",
		}),

		frameDropRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_frame_drop_ratio",
			Help: "Share of frames dropped by newest-wins reassembly (0-1)",
		}),

		linkQuality: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nearcast_media_link_quality",
			Help: "Current link quality grade (1 on the active grade, 0 elsewhere)",
		}, []string{"grade"}),

		datagramsIn: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_datagrams_in_total",
			Help: "Cumulative datagrams received on the media socket",
		}),

		datagramsOut: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_datagrams_out_total",
			Help: "Cumulative datagrams sent on the media socket",
		}),

		datagramsDropped: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_datagrams_discarded_total",
			Help: "Cumulative datagrams discarded before reassembly",
		}),

		bytesIn: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_bytes_in_total",
			Help: "Cumulative bytes received on the media socket",
		}),

		bytesOut: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "nearcast_media_bytes_out_total",
			Help: "Cumulative bytes sent on the media socket",
		}),
	}
}

func (p *PrometheusCollector) SessionStarted() {
	p.sessionsTotal.Inc()
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionEnded() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) PairPending(count int) {
	p.pairsPending.Set(float64(count))
}

func (p *PrometheusCollector) HandshakeResult(decision string) {
	p.handshakesTotal.WithLabelValues(decision).Inc()
}

func (p *PrometheusCollector) HeartbeatTimeout() {
	p.heartbeatTimeouts.Inc()
}

func (p *PrometheusCollector) TelemetrySample(snapshot domain.TelemetrySnapshot) {
	p.framesPerSecond.Set(snapshot.FPS)
	p.mediaKbps.Set(snapshot.Kbps)
	p.frameDropRatio.Set(snapshot.DropRatio)
	p.datagramsIn.Set(float64(snapshot.DatagramsIn))
	p.datagramsOut.Set(float64(snapshot.DatagramsOut))
	p.datagramsDropped.Set(float64(snapshot.DatagramsDiscarded))
	p.bytesIn.Set(float64(snapshot.BytesIn))
	p.bytesOut.Set(float64(snapshot.BytesOut))

	if snapshot.PeerTracked {
		p.peerTracked.Set(1)
	} else {
		p.peerTracked.Set(0)
	}

	for _, grade := range []domain.LinkQuality{
		domain.LinkGood, domain.LinkFair, domain.LinkPoor, domain.LinkIdle, domain.LinkUnknown,
	} {
		value := 0.0
		if grade == snapshot.Quality {
			value = 1.0
		}
		p.linkQuality.WithLabelValues(string(grade)).Set(value)
	}
}

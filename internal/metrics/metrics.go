// Package metrics exposes the console's operational state to
// Prometheus. Collectors live on a private registry so multiple
// instances never collide on registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "miner_console"

// Metrics holds every collector the console updates.
type Metrics struct {
	registry *prometheus.Registry

	nodeRunning    prometheus.Gauge
	peers          prometheus.Gauge
	localHeight    prometheus.Gauge
	networkHeight  prometheus.Gauge
	syncing        prometheus.Gauge
	safeModeActive prometheus.Gauge
	bootnodeStale  prometheus.Gauge

	nodeRestarts     prometheus.Counter
	safeModeRestarts prometheus.Counter
	blocksFound      prometheus.Counter
	linesTotal       *prometheus.CounterVec
}

// New creates a metrics set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_running",
			Help:      "1 while a node process is live.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peer count reported by the local node.",
		}),
		localHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_height",
			Help:      "Best block height of the local node.",
		}),
		networkHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_height",
			Help:      "Network head height observed via the bootnode.",
		}),
		syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "syncing",
			Help:      "1 while the local node reports that it is syncing.",
		}),
		safeModeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safe_mode_active",
			Help:      "1 while the node runs with the restrictive sync flag.",
		}),
		bootnodeStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bootnode_stale_seconds",
			Help:      "Seconds since the bootnode head was last refreshed.",
		}),
		nodeRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_restarts_total",
			Help:      "Node restarts performed by the console.",
		}),
		safeModeRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safe_mode_restarts_total",
			Help:      "Restarts performed to toggle safe mode.",
		}),
		blocksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_found_total",
			Help:      "Blocks accepted from this node's own authorship.",
		}),
		linesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_output_lines_total",
			Help:      "Node output lines processed, by stream.",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.nodeRunning,
		m.peers,
		m.localHeight,
		m.networkHeight,
		m.syncing,
		m.safeModeActive,
		m.bootnodeStale,
		m.nodeRestarts,
		m.safeModeRestarts,
		m.blocksFound,
		m.linesTotal,
	)
	return m
}

// Handler serves this metrics set over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetNodeRunning(running bool) { m.nodeRunning.Set(boolGauge(running)) }
func (m *Metrics) SetPeers(n int)              { m.peers.Set(float64(n)) }
func (m *Metrics) SetLocalHeight(h uint64)     { m.localHeight.Set(float64(h)) }
func (m *Metrics) SetNetworkHeight(h uint64)   { m.networkHeight.Set(float64(h)) }
func (m *Metrics) SetSyncing(s bool)           { m.syncing.Set(boolGauge(s)) }
func (m *Metrics) SetSafeModeActive(a bool)    { m.safeModeActive.Set(boolGauge(a)) }
func (m *Metrics) SetBootnodeStale(secs float64) {
	m.bootnodeStale.Set(secs)
}

func (m *Metrics) IncNodeRestart()     { m.nodeRestarts.Inc() }
func (m *Metrics) IncSafeModeRestart() { m.safeModeRestarts.Inc() }
func (m *Metrics) IncBlockFound()      { m.blocksFound.Inc() }
func (m *Metrics) IncLine(source string) {
	m.linesTotal.WithLabelValues(source).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lws_scan"

// Scanner holds the scanner collectors. A nil *Scanner records nothing.
type Scanner struct {
	blocks       prometheus.Counter
	outputs      prometheus.Counter
	spends       prometheus.Counter
	reorgs       prometheus.Counter
	failures     *prometheus.CounterVec
	passDuration prometheus.Histogram
	chainHeight  prometheus.Gauge
	accounts     prometheus.Gauge
}

func NewScanner(reg prometheus.Registerer) *Scanner {
	f := promauto.With(reg)
	return &Scanner{
		blocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_scanned_total",
			Help: "blocks applied to at least one account",
		}),
		outputs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outputs_received_total",
			Help: "outputs committed for any account",
		}),
		spends: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "spends_detected_total",
			Help: "candidate spends committed for any account",
		}),
		reorgs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reorgs_total",
			Help: "chain reorganizations rolled back",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pass_failures_total",
			Help: "failed scan passes by stage",
		}, []string{"stage"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pass_duration_seconds",
			Help:    "wall time of one scan pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		chainHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "chain_height",
			Help: "node chain height from the last fetch",
		}),
		accounts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_accounts",
			Help: "accounts scanned in the last round",
		}),
	}
}

func (m *Scanner) Pass(seconds float64, blocks, outputs, spends int) {
	if m == nil {
		return
	}
	m.passDuration.Observe(seconds)
	m.blocks.Add(float64(blocks))
	m.outputs.Add(float64(outputs))
	m.spends.Add(float64(spends))
}

func (m *Scanner) Failure(stage string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage).Inc()
}

func (m *Scanner) Reorg() {
	if m != nil {
		m.reorgs.Inc()
	}
}

func (m *Scanner) ChainHeight(h uint64) {
	if m != nil {
		m.chainHeight.Set(float64(h))
	}
}

func (m *Scanner) Accounts(n int) {
	if m != nil {
		m.accounts.Set(float64(n))
	}
}

// API holds the REST collectors. A nil *API records nothing.
type API struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewAPI(reg prometheus.Registerer) *API {
	f := promauto.With(reg)
	return &API{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "REST requests by endpoint and status code",
		}, []string{"endpoint", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds",
			Help:    "REST handler latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

func (m *API) Observe(endpoint, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, code).Inc()
	m.duration.WithLabelValues(endpoint).Observe(seconds)
}

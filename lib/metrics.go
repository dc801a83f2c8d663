package lib

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the node in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
// Every Metrics owns its registry so several nodes may live in a single process
type Metrics struct {
	server   *http.Server         // the http prometheus server
	config   MetricsConfig        // the configuration
	registry *prometheus.Registry // the collector registry
	log      LoggerI              // the logger

	NodeMetrics      // general telemetry about the node
	ConsensusMetrics // dbft telemetry, labeled by validator index
	NetworkMetrics   // broadcast bus telemetry
}

// NodeMetrics represents general telemetry for the node's health
type NodeMetrics struct {
	NodeStatus          prometheus.Gauge     // is the node alive?
	BlockProcessingTime prometheus.Histogram // how long does it take to persist a block?
	StoredHeight        prometheus.Gauge     // the latest persisted block height
}

// ConsensusMetrics represents the telemetry for the dBFT engine
type ConsensusMetrics struct {
	Height          *prometheus.GaugeVec     // the block index being agreed upon
	View            *prometheus.GaugeVec     // the current view number
	ViewChanges     *prometheus.CounterVec   // how many times did the view change?
	Timeouts        *prometheus.CounterVec   // how many timers expired?
	Recoveries      *prometheus.CounterVec   // recovery messages sent / applied
	DroppedMessages *prometheus.CounterVec   // inbound payloads rejected, by reason
	BlocksCommitted *prometheus.CounterVec   // how many blocks were agreed?
	RoundDuration   *prometheus.HistogramVec // seconds from round start to block agreed
	ProposerCount   *prometheus.CounterVec   // how many times did this validator propose?
}

// NetworkMetrics represents the telemetry of the in-process broadcast network
type NetworkMetrics struct {
	MessagesBroadcast prometheus.Counter     // how many payloads were broadcast?
	Violations        *prometheus.CounterVec // protocol violations attributed per validator
}

// NewMetricsServer() creates a new telemetry server
func NewMetricsServer(config MetricsConfig, log LoggerI) *Metrics {
	if log == nil {
		log = NewDefaultLogger()
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	validator := []string{"validator"}
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		config:   config,
		registry: registry,
		log:      log,
		NodeMetrics: NodeMetrics{
			NodeStatus: factory.NewGauge(prometheus.GaugeOpts{
				Name: "dbft_node_status",
				Help: "The node is alive and processing blocks",
			}),
			BlockProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
				Name: "dbft_block_processing_time",
				Help: "Time to persist a block in seconds",
			}),
			StoredHeight: factory.NewGauge(prometheus.GaugeOpts{
				Name: "dbft_stored_height",
				Help: "Latest persisted block height",
			}),
		},
		ConsensusMetrics: ConsensusMetrics{
			Height: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dbft_consensus_height",
				Help: "Block index currently being agreed upon",
			}, validator),
			View: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dbft_consensus_view",
				Help: "Current view number",
			}, validator),
			ViewChanges: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_consensus_view_changes",
				Help: "Total number of view changes",
			}, validator),
			Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_consensus_timeouts",
				Help: "Total number of expired consensus timers",
			}, append(validator, "timer")),
			Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_consensus_recoveries",
				Help: "Recovery messages sent or applied",
			}, append(validator, "direction")),
			DroppedMessages: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_consensus_dropped_messages",
				Help: "Inbound consensus payloads rejected before affecting state",
			}, append(validator, "reason")),
			BlocksCommitted: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_consensus_blocks_committed",
				Help: "Total number of agreed blocks",
			}, validator),
			RoundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "dbft_consensus_round_duration",
				Help:    "Seconds from round start to block agreement",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}, validator),
			ProposerCount: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_consensus_proposals",
				Help: "Total number of PrepareRequests sent as primary",
			}, validator),
		},
		NetworkMetrics: NetworkMetrics{
			MessagesBroadcast: factory.NewCounter(prometheus.CounterOpts{
				Name: "dbft_network_messages_broadcast",
				Help: "Total number of broadcast consensus payloads",
			}),
			Violations: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "dbft_network_violations",
				Help: "Protocol violations attributed to a validator",
			}, validator),
		},
	}
}

// Registry() exposes the collector registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.Enabled {
		go func() {
			m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
			// run the server
			if err := m.server.ListenAndServe(); err != nil {
				if err != http.ErrServerClosed {
					m.log.Errorf("Metrics server failed with err: %s", err.Error())
				}
			}
		}()
	}
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server isn't enabled
	if m.config.Enabled {
		// shutdown the server
		if err := m.server.Shutdown(context.Background()); err != nil {
			m.log.Error(err.Error())
		}
	}
}

// UpdateNodeMetrics() marks the node alive and records the persisted height
func (m *Metrics) UpdateNodeMetrics(storedHeight uint32, persistTime time.Duration) {
	// exit if empty
	if m == nil {
		return
	}
	m.NodeStatus.Set(1)
	m.StoredHeight.Set(float64(storedHeight))
	m.BlockProcessingTime.Observe(persistTime.Seconds())
}

// UpdateRound() sets the height and view gauges of a validator
func (m *Metrics) UpdateRound(validator uint8, height uint32, view uint8) {
	// exit if empty
	if m == nil {
		return
	}
	label := strconv.Itoa(int(validator))
	m.Height.WithLabelValues(label).Set(float64(height))
	m.View.WithLabelValues(label).Set(float64(view))
}

// IncViewChange() records a completed view change
func (m *Metrics) IncViewChange(validator uint8) {
	if m == nil {
		return
	}
	m.ViewChanges.WithLabelValues(strconv.Itoa(int(validator))).Inc()
}

// IncTimeout() records an expired timer
func (m *Metrics) IncTimeout(validator uint8, timer string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(strconv.Itoa(int(validator)), timer).Inc()
}

// IncRecovery() records a recovery message being sent or applied
func (m *Metrics) IncRecovery(validator uint8, direction string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(strconv.Itoa(int(validator)), direction).Inc()
}

// IncDropped() records a rejected inbound payload
func (m *Metrics) IncDropped(validator uint8, reason string) {
	if m == nil {
		return
	}
	m.DroppedMessages.WithLabelValues(strconv.Itoa(int(validator)), reason).Inc()
}

// IncProposal() records a PrepareRequest sent by this validator
func (m *Metrics) IncProposal(validator uint8) {
	if m == nil {
		return
	}
	m.ProposerCount.WithLabelValues(strconv.Itoa(int(validator))).Inc()
}

// ObserveBlockCommitted() records an agreed block and how long the round took
func (m *Metrics) ObserveBlockCommitted(validator uint8, roundDuration time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(int(validator))
	m.BlocksCommitted.WithLabelValues(label).Inc()
	m.RoundDuration.WithLabelValues(label).Observe(roundDuration.Seconds())
}

// IncBroadcast() records a payload sent over the network
func (m *Metrics) IncBroadcast() {
	if m == nil {
		return
	}
	m.MessagesBroadcast.Inc()
}

// IncViolation() records a protocol violation attributed to a validator
func (m *Metrics) IncViolation(validator uint8) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(strconv.Itoa(int(validator))).Inc()
}

// Package metrics defines the Prometheus instruments for the header
// ingestion pipeline and the HTTP server that exposes them.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "header_indexer"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Headers  = "headers"
	Consumer = "consumer"
	Producer = "producer"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple indexer instances.
type Labels struct {
	EVMChainID  uint64 // EVM chain ID (e.g., 1 for Ethereum mainnet)
	Environment string // Deployment environment (e.g., "production", "staging")
}

func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.EVMChainID != 0 {
		labels["evm_chain_id"] = strconv.FormatUint(l.EVMChainID, 10)
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	return labels
}

type Metrics struct {
	// Pipeline state
	headNumber    prometheus.Gauge
	chainTip      prometheus.Gauge
	pendingBlocks prometheus.Counter

	// Header counters
	headersValidated         *prometheus.CounterVec
	validationErrors         *prometheus.CounterVec
	headersSaved             prometheus.Counter
	headerLoadErrors         *prometheus.CounterVec
	headerProcessingDuration prometheus.Histogram

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Kafka consumer metrics
	messagesReceived  *prometheus.CounterVec
	messagesProcessed *prometheus.CounterVec
	messagesInFlight  prometheus.Gauge
	kafkaErrors       *prometheus.CounterVec

	// Kafka producer metrics
	deliveries *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied
// to all metrics, for deployments indexing more than one chain.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		headNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "head_number",
			Help:      "Block number of the highest persisted header",
		}),
		chainTip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "chain_tip_number",
			Help:      "Latest block number reported by the chain node",
		}),
		pendingBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pending_blocks_total",
			Help:      "Total raw blocks skipped because mandatory fields were not yet populated",
		}),
		headersValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Headers,
			Name:      "validated_total",
			Help:      "Total raw blocks run through validation by status",
		}, []string{"status"}),
		validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Headers,
			Name:      "validation_errors_total",
			Help:      "Total validation failures by rejected field",
		}, []string{"field"}),
		headersSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Headers,
			Name:      "saved_total",
			Help:      "Total validated headers handed to the store",
		}),
		headerLoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Headers,
			Name:      "load_errors_total",
			Help:      "Total stored rows that failed to decode by rejected field",
		}, []string{"field"}),
		headerProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Headers,
			Name:      "processing_duration_seconds",
			Help:      "Time to fetch, validate and persist a single header",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "in_flight",
			Help:      "Number of RPC calls currently in progress",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_received_total",
			Help:      "Total number of messages polled from Kafka by partition",
		}, []string{"partition"}),
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_processed_total",
			Help:      "Total number of messages processed by partition and status",
		}, []string{"partition", "status"}),
		messagesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_in_flight",
			Help:      "Number of messages currently being processed",
		}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "kafka_errors_total",
			Help:      "Total number of Kafka errors received by severity (fatal/non_fatal)",
		}, []string{"severity"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Producer,
			Name:      "deliveries_total",
			Help:      "Total number of produced messages by delivery status",
		}, []string{"status"}),
	}

	err := errors.Join(
		reg.Register(m.headNumber),
		reg.Register(m.chainTip),
		reg.Register(m.pendingBlocks),
		reg.Register(m.headersValidated),
		reg.Register(m.validationErrors),
		reg.Register(m.headersSaved),
		reg.Register(m.headerLoadErrors),
		reg.Register(m.headerProcessingDuration),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.messagesReceived),
		reg.Register(m.messagesProcessed),
		reg.Register(m.messagesInFlight),
		reg.Register(m.kafkaErrors),
		reg.Register(m.deliveries),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// SetHeadNumber updates the persisted head gauge.
func (m *Metrics) SetHeadNumber(number uint64) {
	if m == nil {
		return
	}
	m.headNumber.Set(float64(number))
}

// SetChainTip updates the chain tip gauge.
func (m *Metrics) SetChainTip(number uint64) {
	if m == nil {
		return
	}
	m.chainTip.Set(float64(number))
}

// IncPendingBlocks records a raw block skipped for missing mandatory fields.
func (m *Metrics) IncPendingBlocks() {
	if m == nil {
		return
	}
	m.pendingBlocks.Inc()
}

// RecordHeaderValidated records a validation outcome. The rejected field
// label comes from the validation error when one is present.
func (m *Metrics) RecordHeaderValidated(err error, field string) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
		if field != "" {
			m.validationErrors.WithLabelValues(field).Inc()
		}
	}
	m.headersValidated.WithLabelValues(status).Inc()
}

// RecordHeaderSaved records a validated header handed to the store.
func (m *Metrics) RecordHeaderSaved() {
	if m == nil {
		return
	}
	m.headersSaved.Inc()
}

// RecordHeaderLoadError records a stored row that failed to decode.
func (m *Metrics) RecordHeaderLoadError(field string) {
	if m == nil {
		return
	}
	m.headerLoadErrors.WithLabelValues(field).Inc()
}

// ObserveHeaderProcessingDuration records an end-to-end header duration.
func (m *Metrics) ObserveHeaderProcessingDuration(seconds float64) {
	if m == nil {
		return
	}
	m.headerProcessingDuration.Observe(seconds)
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordMessageReceived increments the received counter when a message is polled from Kafka.
func (m *Metrics) RecordMessageReceived(partition int32) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(strconv.Itoa(int(partition))).Inc()
}

// RecordMessageProcessed records a message processing outcome.
// Pass nil error for successful processing, non-nil for failures.
func (m *Metrics) RecordMessageProcessed(partition int32, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.messagesProcessed.WithLabelValues(strconv.Itoa(int(partition)), status).Inc()
}

// IncMessagesInFlight increments the in-flight message processing gauge.
func (m *Metrics) IncMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Inc()
}

// DecMessagesInFlight decrements the in-flight message processing gauge.
func (m *Metrics) DecMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Dec()
}

// RecordKafkaError records a Kafka error by severity.
func (m *Metrics) RecordKafkaError(fatal bool) {
	if m == nil {
		return
	}
	severity := "non_fatal"
	if fatal {
		severity = "fatal"
	}
	m.kafkaErrors.WithLabelValues(severity).Inc()
}

// RecordDelivery records a produced message delivery outcome.
func (m *Metrics) RecordDelivery(err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.deliveries.WithLabelValues(status).Inc()
}

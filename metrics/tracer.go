// Package metrics exposes connection counters via Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/logging"
)

const metricNamespace = "quivy"

var (
	connsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "connections_started_total",
			Help:      "Connections Started",
		},
		[]string{"perspective"},
	)
	connsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "connections_closed_total",
			Help:      "Connections Closed",
		},
		[]string{"perspective"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_sent_total",
			Help:      "Packets Sent",
		},
		[]string{"packet_type"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_received_total",
			Help:      "Packets Received",
		},
		[]string{"packet_type"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "packets_dropped_total",
			Help:      "Packets Dropped",
		},
		[]string{"packet_type", "reason"},
	)
	keysUpdated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "keys_updated_total",
			Help:      "AEADs Installed",
		},
		[]string{"encryption_level"},
	)
)

// NewTracer creates a new tracer using the default Prometheus registerer.
func NewTracer() logging.Tracer {
	return NewTracerWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTracerWithRegisterer creates a new tracer using a given Prometheus registerer.
func NewTracerWithRegisterer(registerer prometheus.Registerer) logging.Tracer {
	for _, c := range [...]prometheus.Collector{
		connsStarted,
		connsClosed,
		packetsSent,
		packetsReceived,
		packetsDropped,
		keysUpdated,
	} {
		if err := registerer.Register(c); err != nil {
			if ok := errors.As(err, &prometheus.AlreadyRegisteredError{}); !ok {
				panic(err)
			}
		}
	}
	return &tracer{}
}

type tracer struct{}

var _ logging.Tracer = &tracer{}

func (t *tracer) TracerForConnection(p logging.Perspective, _ logging.ConnectionID) logging.ConnectionTracer {
	connsStarted.WithLabelValues(p.String()).Inc()
	return &connTracer{perspective: p}
}

type connTracer struct {
	perspective logging.Perspective
}

var _ logging.ConnectionTracer = &connTracer{}

func (t *connTracer) StartedConnection(local, remote logging.ConnectionID) {}

func (t *connTracer) SentPacket(pt logging.PacketType, _ logging.PacketNumber, _ logging.ByteCount) {
	packetsSent.WithLabelValues(pt.String()).Inc()
}

func (t *connTracer) ReceivedPacket(pt logging.PacketType, _ logging.PacketNumber, _ logging.ByteCount) {
	packetsReceived.WithLabelValues(pt.String()).Inc()
}

func (t *connTracer) DroppedPacket(pt logging.PacketType, reason logging.PacketDropReason) {
	packetsDropped.WithLabelValues(pt.String(), reason.String()).Inc()
}

func (t *connTracer) UpdatedKey(encLevel protocol.EncryptionLevel) {
	keysUpdated.WithLabelValues(encLevel.String()).Inc()
}

func (t *connTracer) UpdatedConnectionState(string) {}

func (t *connTracer) ClosedConnection(error) {
	connsClosed.WithLabelValues(t.perspective.String()).Inc()
}

func (t *connTracer) Close() {}

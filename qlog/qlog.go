// Package qlog records connection events in the qlog format.
package qlog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/quivy/quic/internal/protocol"
	"github.com/quivy/quic/internal/utils"
	"github.com/quivy/quic/logging"
)

// Setting QlogVersion
const qlogVersion = "draft-01"

type tracer struct {
	getLogWriter func(p logging.Perspective, connectionID []byte) io.WriteCloser
}

var _ logging.Tracer = &tracer{}

// NewTracer creates a new qlog tracer.
// getLogWriter is called once per connection. Returning nil disables
// tracing for that connection.
func NewTracer(getLogWriter func(p logging.Perspective, connectionID []byte) io.WriteCloser) logging.Tracer {
	return &tracer{getLogWriter: getLogWriter}
}

func (t *tracer) TracerForConnection(p logging.Perspective, odcid protocol.ConnectionID) logging.ConnectionTracer {
	if w := t.getLogWriter(p, odcid.Bytes()); w != nil {
		return newConnectionTracer(w, p, odcid)
	}
	return nil
}

type connectionTracer struct {
	mutex sync.Mutex

	w             io.WriteCloser
	odcid         protocol.ConnectionID
	perspective   logging.Perspective
	referenceTime time.Time

	events []event
}

var _ logging.ConnectionTracer = &connectionTracer{}

func newConnectionTracer(w io.WriteCloser, p logging.Perspective, odcid protocol.ConnectionID) *connectionTracer {
	return &connectionTracer{
		w:             w,
		perspective:   p,
		odcid:         odcid,
		referenceTime: time.Now(),
	}
}

func (t *connectionTracer) record(category, name string, details gojay.MarshalerJSONObject) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.events = append(t.events, event{
		RelativeTime: time.Since(t.referenceTime),
		Category:     category,
		Name:         name,
		Details:      details,
	})
}

func (t *connectionTracer) StartedConnection(local, remote logging.ConnectionID) {
	t.record("connectivity", "connection_started", connectionStarted{Local: local, Remote: remote})
}

func (t *connectionTracer) SentPacket(pt logging.PacketType, pn logging.PacketNumber, size logging.ByteCount) {
	t.record("transport", "packet_sent", packetEvent{PacketType: pt, PacketNumber: pn, Size: size})
}

func (t *connectionTracer) ReceivedPacket(pt logging.PacketType, pn logging.PacketNumber, size logging.ByteCount) {
	t.record("transport", "packet_received", packetEvent{PacketType: pt, PacketNumber: pn, Size: size})
}

func (t *connectionTracer) DroppedPacket(pt logging.PacketType, reason logging.PacketDropReason) {
	t.record("transport", "packet_dropped", packetDropped{PacketType: pt, Trigger: reason.String()})
}

func (t *connectionTracer) UpdatedKey(encLevel logging.EncryptionLevel) {
	t.record("security", "key_updated", keyUpdated{EncryptionLevel: encLevel})
}

func (t *connectionTracer) UpdatedConnectionState(state string) {
	t.record("connectivity", "connection_state_updated", connectionStateUpdated{State: state})
}

func (t *connectionTracer) ClosedConnection(err error) {
	var trigger string
	if err != nil {
		trigger = err.Error()
	}
	t.record("connectivity", "connection_closed", connectionClosed{Trigger: trigger})
}

// Close writes the trace and closes the writer
func (t *connectionTracer) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	enc := gojay.NewEncoder(t.w)
	if err := enc.EncodeObject(topLevel{
		trace: trace{
			VantagePoint:  t.perspective,
			ODCID:         t.odcid,
			ReferenceTime: t.referenceTime,
			Events:        t.events,
		},
	}); err != nil {
		utils.Errorf("writing qlog failed: %s", err)
	}
	if err := t.w.Close(); err != nil {
		utils.Errorf("closing qlog writer failed: %s", err)
	}
}

type topLevel struct {
	trace trace
}

func (l topLevel) IsNil() bool { return false }
func (l topLevel) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("qlog_version", qlogVersion)
	enc.ArrayKey("traces", traces{l.trace})
}

type traces []trace

func (t traces) IsNil() bool { return t == nil }
func (t traces) MarshalJSONArray(enc *gojay.Encoder) {
	for _, tr := range t {
		enc.Object(tr)
	}
}

type trace struct {
	VantagePoint  logging.Perspective
	ODCID         protocol.ConnectionID
	ReferenceTime time.Time
	Events        events
}

func (t trace) IsNil() bool { return false }
func (t trace) MarshalJSONObject(enc *gojay.Encoder) {
	enc.ObjectKey("vantage_point", vantagePoint{Type: t.VantagePoint})
	enc.ObjectKey("common_fields", commonFields{ODCID: t.ODCID, ReferenceTime: t.ReferenceTime})
	enc.ArrayKey("event_fields", eventFields{})
	enc.ArrayKey("events", t.Events)
}

type vantagePoint struct {
	Type logging.Perspective
}

func (p vantagePoint) IsNil() bool { return false }
func (p vantagePoint) MarshalJSONObject(enc *gojay.Encoder) {
	switch p.Type {
	case protocol.PerspectiveClient:
		enc.StringKey("type", "client")
	case protocol.PerspectiveServer:
		enc.StringKey("type", "server")
	}
}

type commonFields struct {
	ODCID         protocol.ConnectionID
	ReferenceTime time.Time
}

func (f commonFields) IsNil() bool { return false }
func (f commonFields) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("ODCID", f.ODCID.String())
	enc.StringKey("group_id", f.ODCID.String())
	enc.Float64Key("reference_time", float64(f.ReferenceTime.UnixNano())/1e6)
}

type eventFields struct{}

func (f eventFields) IsNil() bool { return false }
func (f eventFields) MarshalJSONArray(enc *gojay.Encoder) {
	for _, s := range [...]string{"relative_time", "category", "event", "data"} {
		enc.String(s)
	}
}

type events []event

func (e events) IsNil() bool { return e == nil }
func (e events) MarshalJSONArray(enc *gojay.Encoder) {
	for _, ev := range e {
		enc.Array(ev)
	}
}

type event struct {
	RelativeTime time.Duration
	Category     string
	Name         string
	Details      gojay.MarshalerJSONObject
}

func (e event) IsNil() bool { return false }
func (e event) MarshalJSONArray(enc *gojay.Encoder) {
	enc.Float64(float64(e.RelativeTime.Nanoseconds()) / 1e6)
	enc.String(e.Category)
	enc.String(e.Name)
	enc.Object(e.Details)
}

type connectionStarted struct {
	Local, Remote protocol.ConnectionID
}

func (e connectionStarted) IsNil() bool { return false }
func (e connectionStarted) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("src_cid", e.Local.String())
	enc.StringKey("dst_cid", e.Remote.String())
}

type packetEvent struct {
	PacketType   logging.PacketType
	PacketNumber logging.PacketNumber
	Size         logging.ByteCount
}

func (e packetEvent) IsNil() bool { return false }
func (e packetEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("packet_type", packetTypeName(e.PacketType))
	enc.Int64Key("packet_number", int64(e.PacketNumber))
	enc.Int64Key("packet_size", int64(e.Size))
}

type packetDropped struct {
	PacketType logging.PacketType
	Trigger    string
}

func (e packetDropped) IsNil() bool { return false }
func (e packetDropped) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("packet_type", packetTypeName(e.PacketType))
	enc.StringKey("trigger", e.Trigger)
}

type keyUpdated struct {
	EncryptionLevel logging.EncryptionLevel
}

func (e keyUpdated) IsNil() bool { return false }
func (e keyUpdated) MarshalJSONObject(enc *gojay.Encoder) {
	switch e.EncryptionLevel {
	case protocol.EncryptionInitial:
		enc.StringKey("key_type", "initial_secret")
	case protocol.EncryptionHandshake:
		enc.StringKey("key_type", "handshake_secret")
	case protocol.Encryption1RTT:
		enc.StringKey("key_type", "1rtt_secret")
	}
}

type connectionStateUpdated struct {
	State string
}

func (e connectionStateUpdated) IsNil() bool { return false }
func (e connectionStateUpdated) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("new", e.State)
}

type connectionClosed struct {
	Trigger string
}

func (e connectionClosed) IsNil() bool { return false }
func (e connectionClosed) MarshalJSONObject(enc *gojay.Encoder) {
	if e.Trigger != "" {
		enc.StringKey("trigger", e.Trigger)
	}
}

func packetTypeName(t logging.PacketType) string {
	switch t {
	case protocol.PacketTypeInitial:
		return "initial"
	case protocol.PacketTypeHandshake:
		return "handshake"
	case protocol.PacketTypeRetry:
		return "retry"
	case protocol.PacketTypeVersionNegotiation:
		return "version_negotiation"
	case protocol.PacketType1RTT:
		return "1RTT"
	default:
		return fmt.Sprintf("unknown (%d)", t)
	}
}

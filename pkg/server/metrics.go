package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks relay runtime statistics.
// All counters use atomic operations; the relay loop writes them while the
// HTTP endpoint and the periodic logger read them.
type Metrics struct {
	startTime time.Time

	// Datagram counters
	DatagramsIn        atomic.Int64 // datagrams read from the socket
	DatagramsMalformed atomic.Int64 // dropped because the frame did not decode
	DatagramsDropped   atomic.Int64 // decoded but dropped (unknown sender, pinned endpoint mismatch)
	BytesIn            atomic.Int64
	BytesOut           atomic.Int64

	// Membership counters
	JoinsAccepted atomic.Int64
	JoinsRejected atomic.Int64 // nickname already taken
	Leaves        atomic.Int64 // explicit {QUIT}
	Evictions     atomic.Int64 // removed by the liveness rule

	// Chat counters
	ChatMessages     atomic.Int64 // chat lines relayed
	DeliveriesSent   atomic.Int64 // successful datagram writes
	DeliveriesFailed atomic.Int64 // failed datagram writes

	// Side channels
	TranscriptErrors atomic.Int64
	EventErrors      atomic.Int64

	// Gauges mirrored from the relay state
	ActiveSessions atomic.Int64
	Sequence       atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	DatagramsIn        int64 `json:"datagrams_in"`
	DatagramsMalformed int64 `json:"datagrams_malformed"`
	DatagramsDropped   int64 `json:"datagrams_dropped"`
	BytesIn            int64 `json:"bytes_in"`
	BytesOut           int64 `json:"bytes_out"`

	JoinsAccepted int64 `json:"joins_accepted"`
	JoinsRejected int64 `json:"joins_rejected"`
	Leaves        int64 `json:"leaves"`
	Evictions     int64 `json:"evictions"`

	ChatMessages     int64 `json:"chat_messages"`
	DeliveriesSent   int64 `json:"deliveries_sent"`
	DeliveriesFailed int64 `json:"deliveries_failed"`

	TranscriptErrors int64 `json:"transcript_errors"`
	EventErrors      int64 `json:"event_errors"`

	ActiveSessions int64 `json:"active_sessions"`
	Sequence       int64 `json:"sequence"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		DatagramsIn:        m.DatagramsIn.Load(),
		DatagramsMalformed: m.DatagramsMalformed.Load(),
		DatagramsDropped:   m.DatagramsDropped.Load(),
		BytesIn:            m.BytesIn.Load(),
		BytesOut:           m.BytesOut.Load(),
		JoinsAccepted:      m.JoinsAccepted.Load(),
		JoinsRejected:      m.JoinsRejected.Load(),
		Leaves:             m.Leaves.Load(),
		Evictions:          m.Evictions.Load(),
		ChatMessages:       m.ChatMessages.Load(),
		DeliveriesSent:     m.DeliveriesSent.Load(),
		DeliveriesFailed:   m.DeliveriesFailed.Load(),
		TranscriptErrors:   m.TranscriptErrors.Load(),
		EventErrors:        m.EventErrors.Load(),
		ActiveSessions:     m.ActiveSessions.Load(),
		Sequence:           m.Sequence.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"datagrams_in", s.DatagramsIn,
		"malformed", s.DatagramsMalformed,
		"chat_msgs", s.ChatMessages,
		"evictions", s.Evictions,
		"send_failures", s.DeliveriesFailed,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed. A non-positive interval disables it.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

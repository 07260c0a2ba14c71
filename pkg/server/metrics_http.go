package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format and a /healthz probe. It runs in the
// background and shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}

	_, _ = fmt.Fprintf(w, "# HELP chatrelay_uptime_seconds Relay uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE chatrelay_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "chatrelay_uptime_seconds %f\n", uptime)

	write("chatrelay_sessions_active", "Currently registered sessions.", "gauge",
		m.ActiveSessions.Load())
	write("chatrelay_sequence", "Global liveness sequence counter.", "gauge",
		m.Sequence.Load())

	write("chatrelay_datagrams_in_total", "Datagrams received.", "counter",
		m.DatagramsIn.Load())
	write("chatrelay_datagrams_malformed_total", "Datagrams dropped as malformed frames.", "counter",
		m.DatagramsMalformed.Load())
	write("chatrelay_datagrams_dropped_total", "Decoded datagrams dropped.", "counter",
		m.DatagramsDropped.Load())
	write("chatrelay_bytes_in_total", "Bytes received.", "counter",
		m.BytesIn.Load())
	write("chatrelay_bytes_out_total", "Bytes sent.", "counter",
		m.BytesOut.Load())

	write("chatrelay_joins_accepted_total", "Accepted join requests.", "counter",
		m.JoinsAccepted.Load())
	write("chatrelay_joins_rejected_total", "Join requests rejected for a taken nickname.", "counter",
		m.JoinsRejected.Load())
	write("chatrelay_leaves_total", "Explicit leaves.", "counter",
		m.Leaves.Load())
	write("chatrelay_evictions_total", "Sessions evicted as stale.", "counter",
		m.Evictions.Load())

	write("chatrelay_chat_messages_total", "Chat lines relayed.", "counter",
		m.ChatMessages.Load())
	write("chatrelay_deliveries_sent_total", "Datagrams written to participants.", "counter",
		m.DeliveriesSent.Load())
	write("chatrelay_deliveries_failed_total", "Failed datagram writes.", "counter",
		m.DeliveriesFailed.Load())

	write("chatrelay_transcript_errors_total", "Failed transcript writes.", "counter",
		m.TranscriptErrors.Load())
	write("chatrelay_event_errors_total", "Failed event publishes.", "counter",
		m.EventErrors.Load())
}

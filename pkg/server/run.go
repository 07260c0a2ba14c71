package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
)

// Run binds the UDP socket, starts metrics and blocks in the relay loop until
// a shutdown signal arrives or the loop stops on its own.
func (s *Server) Run() error {
	defer s.closeDependencies()
	defer s.cancel()

	conn, err := s.Listen()
	if err != nil {
		return err
	}
	return s.runOn(conn)
}

// runOn drives the relay on a bound socket and closes it on return, whether
// the loop stopped on a signal, on an empty registry or on a read error.
func (s *Server) runOn(conn *net.UDPConn) error {
	defer func() { _ = conn.Close() }()

	slog.Info("chat relay running",
		"addr", conn.LocalAddr().String(),
		"stale_threshold", s.liveness.Threshold,
		"exit_when_empty", s.cfg.ExitWhenEmpty,
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging
	s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			slog.Info("shutting down...")
			s.Shutdown()
		case <-s.ctx.Done():
		}
	}()

	return s.Serve(s.ctx, conn)
}

// Listen binds the relay's UDP socket.
func (s *Server) Listen() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp4", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve listen addr: %w", err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}

	if err := conn.SetReadBuffer(1024 * 1024); err != nil {
		slog.Warn("failed to set UDP read buffer", "err", err)
	}

	slog.Info("Waiting for someone to join the chat", "addr", conn.LocalAddr().String())
	return conn, nil
}

// Shutdown stops the relay loop.
func (s *Server) Shutdown() {
	s.cancel()
}

func (s *Server) closeDependencies() {
	if err := s.transcript.Close(); err != nil {
		slog.Warn("close transcript", "err", err)
	}
	if err := s.events.Close(); err != nil {
		slog.Warn("close event publisher", "err", err)
	}
}

// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"
	"net"

	"github.com/aahoughton/cowboy/control"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics records server telemetry into m.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithListener makes ListenAndServe use ln instead of opening the
// configured address.
func WithListener(ln net.Listener) Option {
	return func(s *Server) { s.ln = ln }
}

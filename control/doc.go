// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection layer.
//
// Provides:
//   - YAML configuration with environment overrides and readable sizes
//   - Prometheus collectors for connections, requests, upgrades and frames
//   - State export through registered debug probes
package control

// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket wire protocol (RFC 6455) used by the upgrade engine.
//
// Includes:
//   - Frame encoding/decoding over pooled write buffers
//   - Fragment reassembly with size limits
//   - Close payload and UTF-8 validation
//   - Handshake validation and Sec-WebSocket-Accept computation
package protocol

// Package session
// Author: momentics <momentics@gmail.com>
//
// Session state for connections taken over by a protocol, and the sharded
// registry that lets other goroutines address them by connection id.
//
// Cancellation closes the session mailbox so late senders are told the
// connection is gone.

package session

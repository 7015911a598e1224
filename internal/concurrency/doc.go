// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives shared by the connection goroutines. Mailbox is
// the unbounded per-connection message queue; senders never block and the
// owner waits on a ready channel next to its other event sources.
package concurrency

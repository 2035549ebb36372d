// Package replibridge binds the replication state in package replication to
// a concrete messaging transport from package transport. It forwards raw
// message bytes in both directions, translates channel registrations into
// transport channel configurations, and drives the framework's view of who
// is connected from transport lifecycle events.
//
// The host application owns the tick loop and calls two phases per tick:
//
//	bridge.PreUpdate()  // lifecycle transitions, then inbound messages
//	...                 // application logic: drain events, queue messages
//	bridge.PostUpdate() // outbound messages, then disconnect requests
//
// The ordering inside the phases is load-bearing. New connections become
// visible before inbound draining so first messages have a record to attach
// to, and lost connections become invisible before draining so stale
// messages are never misattributed. Outgoing messages are handed to the
// transport before disconnect requests are applied, so a message queued in
// the same tick as a disconnect still reaches the peer. Because every
// access to the shared state happens inside these single-threaded phases,
// none of it is locked; running the phases concurrently is not supported.
//
// The bridges never block: every transport call is a non-blocking poll or
// push against queues the transport maintains internally.
package replibridge

// Package audit delivers security events (logins, refreshes, evictions,
// logouts, rate limit hits) to a [Sink] off the request path.
//
// [Dispatcher] buffers events and forwards them from a single goroutine.
// Sinks: [ChannelSink] for tests, [JSONWriterSink] for JSON lines and
// [SlogSink] for structured logs. The authority package decides which
// events exist; this package only moves them.
package audit

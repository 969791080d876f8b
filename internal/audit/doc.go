// Package audit dispatches security events asynchronously to a sink.
//
// The engine decides which events to emit; this package only buffers them
// and delivers them to a [Sink] (channel, JSON lines, zerolog or no-op) from
// a single worker goroutine. [Dispatcher.Close] drains the buffer.
package audit

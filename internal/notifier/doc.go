// Package notifier delivers outbound chat messages through an async queue.
//
// Messages are accepted by Notify, buffered in a bounded queue and sent by a
// small worker pool. Sends share a token-bucket rate limit and failed sends
// are retried with jittered exponential backoff. The queue never blocks the
// caller: when it is full the message is dropped and ErrQueueFull returned.
//
// When the pipeline is disabled, Notify sends inline with a single attempt.
//
// Lifecycle outcomes are published on the event bus (notifier.sent,
// notifier.failed, notifier.dropped).
package notifier

// Package publisher journals reconciliation decisions and forwards them to
// external systems.
//
// Every decision a node reaches for a view is appended to a PublishLog, a
// Pebble-backed append-only log with one consumption cursor per sink. A
// Worker per configured sink reads the log in order, filters by outcome,
// encodes each event and publishes it with exponential backoff. Delivery is
// at-least-once: the cursor only advances after the sink accepted the event.
//
// Key layout:
//
//	/journal/event/{seq:016x}  -> msgpack(DecisionEvent)
//	/journal/cursor/{sinkName} -> uint64
//	/journal/seq               -> uint64 (last assigned sequence)
//
// Events every sink has consumed are deleted in the background.
//
// Sinks register themselves by type through RegisterSink; the sink package
// provides "kafka", "nats" and "mock". Encoders register by format through
// RegisterEncoder; "json" (the default) and "msgpack" are built in.
package publisher

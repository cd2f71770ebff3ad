package publisher

// SyncTarget describes the peer a node has to synchronize from
type SyncTarget struct {
	Address  string `msgpack:"addr" json:"address"`
	TxnID    uint64 `msgpack:"txn" json:"txn_id"`
	SyncMode string `msgpack:"mode" json:"sync_mode"`
	SyncPort uint16 `msgpack:"port" json:"sync_port"`
}

// DecisionEvent is one reconciliation decision as stored in the journal
type DecisionEvent struct {
	SeqNum         uint64      `msgpack:"seq" json:"seq"`                                // Monotonic sequence, assigned by PublishLog
	NodeID         uint64      `msgpack:"node" json:"node_id"`                           // Deciding node
	Address        string      `msgpack:"addr" json:"address"`                           // Deciding node's advertise address
	ViewID         uint64      `msgpack:"view" json:"view_id"`                           // View the round ran for
	Members        []string    `msgpack:"members" json:"members"`                        // View members, sorted
	Outcome        string      `msgpack:"outcome" json:"outcome"`                        // reconcile.Outcome* label
	NeedsViewRetry bool        `msgpack:"retry" json:"needs_view_retry"`                 // Round gave up on this view
	MyTxnID        uint64      `msgpack:"txn" json:"txn_id"`                             // Local txn id at decision time
	Target         *SyncTarget `msgpack:"target,omitempty" json:"sync_target,omitempty"` // Set only when Outcome is sync
	DecidedAt      int64       `msgpack:"ts" json:"decided_at"`                          // Unix milliseconds
}

// Sink represents a destination for decision events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Encoder converts decision events to a sink payload format
type Encoder interface {
	Encode(event DecisionEvent) ([]byte, error)
}

// Filter determines whether a decision should be published
type Filter interface {
	// Match returns true if events with this outcome should be published
	Match(outcome string) bool
}

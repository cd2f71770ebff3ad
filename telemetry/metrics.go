package telemetry

// Reconciliation Metrics
var (
	// ReconcileRoundsTotal counts finished rounds by outcome (sync, up_to_date, retry_view)
	ReconcileRoundsTotal CounterVec = noopCounterVec{}

	// ReconcileRoundSeconds measures round duration including retries
	ReconcileRoundSeconds Histogram = NoopStat{}

	// ReconcileAttemptsTotal counts broadcast-and-wait attempts
	ReconcileAttemptsTotal Counter = NoopStat{}

	// QuorumWaitsTotal counts quorum waits by result (reached, timeout)
	QuorumWaitsTotal CounterVec = noopCounterVec{}

	// QuorumWaitSeconds measures a single quorum wait
	QuorumWaitSeconds Histogram = NoopStat{}

	// ReconcileLagTxns is how far behind the chosen sync target the node was at its last decision
	ReconcileLagTxns Gauge = NoopStat{}

	// RegistryUpdatesTotal counts node state reports stored in the registry
	RegistryUpdatesTotal Counter = NoopStat{}

	// RegistryEntries tracks the number of addresses with a stored node state
	RegistryEntries Gauge = NoopStat{}
)

// Membership Metrics
var (
	// ViewID tracks the currently installed view id
	ViewID Gauge = NoopStat{}

	// ViewMembers tracks the member count of the current view
	ViewMembers Gauge = NoopStat{}

	// ViewChangesTotal counts installed views
	ViewChangesTotal Counter = NoopStat{}
)

// Transport Metrics
var (
	// MessagesTotal counts gateway messages by direction (sent, received) and channel
	MessagesTotal CounterVec = noopCounterVec{}

	// SendFailuresTotal counts failed deliveries by channel
	SendFailuresTotal CounterVec = noopCounterVec{}

	// SendSeconds measures a single delivery RPC
	SendSeconds Histogram = NoopStat{}

	// DroppedMessagesTotal counts inbound messages nobody subscribed to, or that failed to decode
	DroppedMessagesTotal CounterVec = noopCounterVec{}
)

// Journal Metrics
var (
	// JournalEventsTotal counts decisions appended to the journal
	JournalEventsTotal Counter = NoopStat{}

	// JournalPublishTotal counts sink publishes by sink and result
	JournalPublishTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	ReconcileRoundsTotal = NewCounterVec(
		"reconcile_rounds_total",
		"Reconciliation rounds by outcome",
		"outcome",
	)
	ReconcileRoundSeconds = NewLatency(
		"reconcile_round_seconds",
		"Reconciliation round duration in seconds",
		LatencyRound,
	)
	ReconcileAttemptsTotal = NewCounter(
		"reconcile_attempts_total",
		"Total broadcast-and-wait attempts",
	)
	QuorumWaitsTotal = NewCounterVec(
		"quorum_waits_total",
		"Quorum waits by result",
		"result",
	)
	QuorumWaitSeconds = NewLatency(
		"quorum_wait_seconds",
		"Single quorum wait duration in seconds",
		LatencyQuorumWait,
	)
	ReconcileLagTxns = NewGauge(
		"reconcile_lag_txns",
		"Transactions behind the sync target at the last decision",
	)
	RegistryUpdatesTotal = NewCounter(
		"registry_updates_total",
		"Node state reports stored in the registry",
	)
	RegistryEntries = NewGauge(
		"registry_entries",
		"Addresses with a stored node state",
	)

	ViewID = NewGauge(
		"view_id",
		"Currently installed view id",
	)
	ViewMembers = NewGauge(
		"view_members",
		"Members in the current view",
	)
	ViewChangesTotal = NewCounter(
		"view_changes_total",
		"Total installed views",
	)

	MessagesTotal = NewCounterVec(
		"messages_total",
		"Gateway messages by direction and channel",
		"direction", "channel",
	)
	SendFailuresTotal = NewCounterVec(
		"send_failures_total",
		"Failed gateway deliveries by channel",
		"channel",
	)
	SendSeconds = NewLatency(
		"send_seconds",
		"Gateway delivery RPC duration in seconds",
		LatencySend,
	)
	DroppedMessagesTotal = NewCounterVec(
		"dropped_messages_total",
		"Inbound messages dropped by reason",
		"reason",
	)

	JournalEventsTotal = NewCounter(
		"journal_events_total",
		"Decisions appended to the journal",
	)
	JournalPublishTotal = NewCounterVec(
		"journal_publish_total",
		"Journal sink publishes by sink and result",
		"sink", "result",
	)
}

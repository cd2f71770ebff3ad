package publisher

import (
	"time"

	"github.com/maxpert/viewsync/reconcile"
)

// NewDecisionEvent converts a round's result into a journal event.
// SeqNum is assigned on append.
func NewDecisionEvent(nodeID uint64, self reconcile.Address, state reconcile.ClusterState, view reconcile.View, decidedAt time.Time) DecisionEvent {
	members := view.Members()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = string(m)
	}

	event := DecisionEvent{
		NodeID:         nodeID,
		Address:        string(self),
		ViewID:         view.ID,
		Members:        names,
		Outcome:        state.Outcome(),
		NeedsViewRetry: state.NeedsViewRetry,
		MyTxnID:        state.MyTransactionID,
		DecidedAt:      decidedAt.UnixMilli(),
	}

	if t := state.SyncTarget; t != nil {
		event.Target = &SyncTarget{
			Address:  string(t.Address),
			TxnID:    t.TransactionID,
			SyncMode: t.SyncMode.String(),
			SyncPort: t.SyncPort,
		}
	}

	return event
}

package reconcile

// RankFunc orders two node states: positive when a ranks above b, negative
// when below, zero when tied.
type RankFunc func(a, b NodeState) int

// ByTransactionID ranks the state with the strictly greater committed
// transaction id higher. Equal ids are tied.
func ByTransactionID(a, b NodeState) int {
	switch {
	case a.TransactionID > b.TransactionID:
		return 1
	case a.TransactionID < b.TransactionID:
		return -1
	default:
		return 0
	}
}

// Eligible reports whether a state may take part in a round for view: its
// origin is a member and it was produced under the same view id.
func Eligible(view View, s NodeState) bool {
	return s.ViewID == view.ID && view.Contains(s.Address)
}

// SelectAuthoritative returns the highest ranked eligible state. Ties under
// rank go to the lowest address so the choice does not depend on input order.
func SelectAuthoritative(view View, states []NodeState, rank RankFunc) (NodeState, bool) {
	if rank == nil {
		rank = ByTransactionID
	}

	var best NodeState
	found := false
	for _, s := range states {
		if !Eligible(view, s) {
			continue
		}
		if !found {
			best, found = s, true
			continue
		}
		c := rank(s, best)
		if c > 0 || (c == 0 && s.Address < best.Address) {
			best = s
		}
	}

	return best, found
}

// Decide turns the eligible states of a quorate round into a ClusterState.
func Decide(view View, states []NodeState, myTxnID uint64, rank RankFunc) ClusterState {
	best, ok := SelectAuthoritative(view, states, rank)
	if !ok {
		return ClusterState{NeedsViewRetry: true, MyTransactionID: myTxnID}
	}
	if best.TransactionID > myTxnID {
		target := best
		return ClusterState{MyTransactionID: myTxnID, SyncTarget: &target}
	}
	return ClusterState{MyTransactionID: myTxnID}
}

package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// TypeNodeState is the message type tag of a NodeState report.
const TypeNodeState uint8 = 3

// Address identifies a cluster member by its advertise address (host:port).
type Address string

// SyncMode describes how a peer can be synchronized from the reporting node.
// The reconciliation core only carries it forward.
type SyncMode uint8

const (
	SyncModeSnapshot SyncMode = 0
	SyncModeJournal  SyncMode = 1
)

func (m SyncMode) String() string {
	switch m {
	case SyncModeSnapshot:
		return "snapshot"
	case SyncModeJournal:
		return "journal"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseSyncMode parses the configuration spelling of a sync mode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(s) {
	case "snapshot", "":
		return SyncModeSnapshot, nil
	case "journal":
		return SyncModeJournal, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q", s)
	}
}

// Message is anything delivered by the gateway. Origin is attached by the
// transport on receipt.
type Message interface {
	Type() uint8
	Origin() Address
}

// NodeState is one node's report about itself for a given view.
// Values are immutable; the registry replaces entries, it never mutates them.
type NodeState struct {
	ViewID        uint64
	TransactionID uint64
	SyncMode      SyncMode
	SyncPort      uint16

	// Address is the origin of the report, stamped by the transport.
	Address Address
}

func (s NodeState) Type() uint8     { return TypeNodeState }
func (s NodeState) Origin() Address { return s.Address }

func (s NodeState) String() string {
	return fmt.Sprintf("NodeState{addr=%s view=%d txn=%d mode=%s port=%d}",
		s.Address, s.ViewID, s.TransactionID, s.SyncMode, s.SyncPort)
}

// Outcome labels used in logs, metrics and the decision journal.
const (
	OutcomeSync      = "sync"
	OutcomeUpToDate  = "up_to_date"
	OutcomeRetryView = "retry_view"
)

// ClusterState is the decision produced by one reconciliation round.
type ClusterState struct {
	// NeedsViewRetry means quorum could not be established or no
	// authoritative peer was found; the view is unresolved.
	NeedsViewRetry bool

	// MyTransactionID is the local committed transaction id at decision time.
	MyTransactionID uint64

	// SyncTarget is set only when a peer strictly ahead was identified.
	SyncTarget *NodeState
}

// NeedsSync reports whether the local node must resynchronize from SyncTarget.
func (c ClusterState) NeedsSync() bool {
	return !c.NeedsViewRetry && c.SyncTarget != nil
}

// Outcome returns the decision as one of the Outcome* labels.
func (c ClusterState) Outcome() string {
	switch {
	case c.NeedsViewRetry:
		return OutcomeRetryView
	case c.SyncTarget != nil:
		return OutcomeSync
	default:
		return OutcomeUpToDate
	}
}

// View is a membership snapshot. Two views are the same iff their ids match.
type View struct {
	ID      uint64
	members []Address
	index   map[Address]struct{}
}

// NewView builds a view from an id and its members. Duplicates are dropped and
// members are kept sorted.
func NewView(id uint64, members ...Address) View {
	index := make(map[Address]struct{}, len(members))
	sorted := make([]Address, 0, len(members))
	for _, m := range members {
		if _, dup := index[m]; dup {
			continue
		}
		index[m] = struct{}{}
		sorted = append(sorted, m)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return View{ID: id, members: sorted, index: index}
}

// Members returns a copy of the member list in address order.
func (v View) Members() []Address {
	out := make([]Address, len(v.members))
	copy(out, v.members)
	return out
}

func (v View) Contains(addr Address) bool {
	_, ok := v.index[addr]
	return ok
}

func (v View) Size() int {
	return len(v.members)
}

// SameAs compares view ids only; a membership change always implies a new id.
func (v View) SameAs(other View) bool {
	return v.ID == other.ID
}

func (v View) String() string {
	parts := make([]string, len(v.members))
	for i, m := range v.members {
		parts[i] = string(m)
	}
	return fmt.Sprintf("View{id=%d members=[%s]}", v.ID, strings.Join(parts, ","))
}

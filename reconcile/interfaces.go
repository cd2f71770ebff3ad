package reconcile

// Channel selects the transport path a message travels on.
type Channel uint8

const (
	// ChannelDefault carries normal application traffic.
	ChannelDefault Channel = 0
	// ChannelOOB is reserved for control traffic so reconciliation is never
	// queued behind application messages.
	ChannelOOB Channel = 1
)

func (c Channel) String() string {
	if c == ChannelOOB {
		return "oob"
	}
	return "default"
}

// Gateway is the transport used to broadcast node states. Send is
// fire-and-forget: delivery failures surface only as missing registry entries.
type Gateway interface {
	Send(addrs []Address, msg Message, ch Channel)
	OOB() Channel
}

// Receiver consumes inbound messages of the types it declares.
type Receiver interface {
	OnMessage(msg Message)
	InterestedTypes() []uint8
}

// ViewSource answers which view is active right now.
type ViewSource interface {
	ActiveViewID() uint64
}

// TransactionIDFunc returns the local node's highest committed transaction id.
type TransactionIDFunc func() uint64

package reconcile

import (
	"fmt"

	"github.com/maxpert/viewsync/encoding"
)

// MessageCodec converts one message type to and from its wire payload.
type MessageCodec interface {
	Type() uint8
	Encode(msg Message) ([]byte, error)
	Decode(origin Address, payload []byte) (Message, error)
}

// NodeStateCodec is the MessageCodec for TypeNodeState.
type NodeStateCodec struct{}

func (NodeStateCodec) Type() uint8 { return TypeNodeState }

func (NodeStateCodec) Encode(msg Message) ([]byte, error) {
	var s NodeState
	switch m := msg.(type) {
	case NodeState:
		s = m
	case *NodeState:
		s = *m
	default:
		return nil, fmt.Errorf("%w: cannot encode %T as node state", encoding.ErrUnexpectedMessage, msg)
	}
	return MarshalNodeState(s)
}

func (NodeStateCodec) Decode(origin Address, payload []byte) (Message, error) {
	s, err := UnmarshalNodeState(origin, payload)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalNodeState encodes the wire body of s. The address is not encoded.
func MarshalNodeState(s NodeState) ([]byte, error) {
	return encoding.EncodeNodeState(TypeNodeState, encoding.NodeStateWire{
		ViewID:        s.ViewID,
		TransactionID: s.TransactionID,
		SyncMode:      uint8(s.SyncMode),
		SyncPort:      s.SyncPort,
	})
}

// UnmarshalNodeState decodes a wire body and stamps it with origin.
func UnmarshalNodeState(origin Address, payload []byte) (NodeState, error) {
	w, err := encoding.DecodeNodeState(TypeNodeState, payload)
	if err != nil {
		return NodeState{}, err
	}
	return NodeState{
		ViewID:        w.ViewID,
		TransactionID: w.TransactionID,
		SyncMode:      SyncMode(w.SyncMode),
		SyncPort:      w.SyncPort,
		Address:       origin,
	}, nil
}

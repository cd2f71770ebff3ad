package encoding

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// nodeStateFields is the number of array elements in an encoded node state:
// type tag, view id, transaction id, sync mode, sync port.
const nodeStateFields = 5

// ErrUnexpectedMessage is returned when a payload does not carry the expected
// message type tag or shape.
var ErrUnexpectedMessage = errors.New("unexpected message")

// NodeStateWire is the on-wire body of a node state report. The origin address
// is not part of the body; the transport attaches it on receipt.
type NodeStateWire struct {
	ViewID        uint64
	TransactionID uint64
	SyncMode      uint8
	SyncPort      uint16
}

// EncodeNodeState writes a node state as a fixed msgpack array in send order.
func EncodeNodeState(tag uint8, s NodeStateWire) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(nodeStateFields); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint8(tag); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(s.ViewID); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(s.TransactionID); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint8(s.SyncMode); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint16(s.SyncPort); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecodeNodeState reads a node state written by EncodeNodeState and checks
// that it carries the expected tag. Fields are read at full width so values
// that do not fit their declared type are rejected instead of truncated.
func DecodeNodeState(tag uint8, data []byte) (NodeStateWire, error) {
	var s NodeStateWire
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return s, fmt.Errorf("failed to decode node state header: %w", err)
	}
	if n != nodeStateFields {
		return s, fmt.Errorf("%w: node state has %d fields, want %d", ErrUnexpectedMessage, n, nodeStateFields)
	}

	got, err := dec.DecodeUint64()
	if err != nil {
		return s, fmt.Errorf("failed to decode type tag: %w", err)
	}
	if got != uint64(tag) {
		return s, fmt.Errorf("%w: type tag %d, want %d", ErrUnexpectedMessage, got, tag)
	}

	if s.ViewID, err = dec.DecodeUint64(); err != nil {
		return s, fmt.Errorf("failed to decode view id: %w", err)
	}
	if s.TransactionID, err = dec.DecodeUint64(); err != nil {
		return s, fmt.Errorf("failed to decode transaction id: %w", err)
	}

	mode, err := dec.DecodeUint64()
	if err != nil {
		return s, fmt.Errorf("failed to decode sync mode: %w", err)
	}
	if mode > math.MaxUint8 {
		return s, fmt.Errorf("%w: sync mode %d out of range", ErrUnexpectedMessage, mode)
	}
	s.SyncMode = uint8(mode)

	port, err := dec.DecodeUint64()
	if err != nil {
		return s, fmt.Errorf("failed to decode sync port: %w", err)
	}
	if port > math.MaxUint16 {
		return s, fmt.Errorf("%w: sync port %d out of range", ErrUnexpectedMessage, port)
	}
	s.SyncPort = uint16(port)

	if r.Len() != 0 {
		return s, fmt.Errorf("%w: %d trailing bytes after node state", ErrUnexpectedMessage, r.Len())
	}

	return s, nil
}

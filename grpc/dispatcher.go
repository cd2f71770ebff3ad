package grpc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/maxpert/viewsync/reconcile"
	"github.com/maxpert/viewsync/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrUnknownMessageType is returned for payloads no codec is registered for
var ErrUnknownMessageType = errors.New("unknown message type")

// Dispatcher decodes inbound payloads and routes them to subscribed receivers by message type
type Dispatcher struct {
	mu        sync.RWMutex
	codecs    map[uint8]reconcile.MessageCodec
	receivers map[uint8][]reconcile.Receiver
}

// NewDispatcher creates a dispatcher that understands the given codecs
func NewDispatcher(codecs ...reconcile.MessageCodec) *Dispatcher {
	d := &Dispatcher{
		codecs:    make(map[uint8]reconcile.MessageCodec),
		receivers: make(map[uint8][]reconcile.Receiver),
	}
	for _, c := range codecs {
		d.RegisterCodec(c)
	}
	return d
}

// RegisterCodec adds or replaces the codec for c.Type()
func (d *Dispatcher) RegisterCodec(c reconcile.MessageCodec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codecs[c.Type()] = c
}

// Codec returns the codec registered for a message type
func (d *Dispatcher) Codec(msgType uint8) (reconcile.MessageCodec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.codecs[msgType]
	return c, ok
}

// Subscribe routes every message type r declares interest in to r
func (d *Dispatcher) Subscribe(r reconcile.Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range r.InterestedTypes() {
		d.receivers[t] = append(d.receivers[t], r)
	}
}

// Encode serializes msg with the codec registered for its type
func (d *Dispatcher) Encode(msg reconcile.Message) (*Envelope, error) {
	c, ok := d.Codec(msg.Type())
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, msg.Type())
	}
	payload, err := c.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message type %d: %w", msg.Type(), err)
	}
	return &Envelope{Type: msg.Type(), Payload: payload}, nil
}

// Dispatch decodes an envelope received from origin and hands it to every subscriber.
// Returns the number of receivers the message reached.
func (d *Dispatcher) Dispatch(origin reconcile.Address, env *Envelope) (int, error) {
	d.mu.RLock()
	c, ok := d.codecs[env.Type]
	receivers := d.receivers[env.Type]
	d.mu.RUnlock()

	if !ok {
		telemetry.DroppedMessagesTotal.With("unknown_type").Inc()
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageType, env.Type)
	}

	msg, err := c.Decode(origin, env.Payload)
	if err != nil {
		telemetry.DroppedMessagesTotal.With("decode_error").Inc()
		return 0, fmt.Errorf("failed to decode message type %d from %s: %w", env.Type, origin, err)
	}

	if len(receivers) == 0 {
		telemetry.DroppedMessagesTotal.With("no_receiver").Inc()
		log.Debug().
			Uint8("type", env.Type).
			Str("origin", string(origin)).
			Msg("No receiver for message, dropping")
		return 0, nil
	}

	for _, r := range receivers {
		r.OnMessage(msg)
	}
	return len(receivers), nil
}

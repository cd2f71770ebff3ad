package grpc

import (
	"context"
	"sync"
	"time"

	"github.com/maxpert/viewsync/reconcile"
	"github.com/maxpert/viewsync/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultSendTimeout bounds a single delivery RPC
const DefaultSendTimeout = time.Second

// Gateway is the fire-and-forget reconcile.Gateway backed by the gRPC client.
// Messages addressed to the local node are dispatched in-process.
type Gateway struct {
	self        reconcile.Address
	client      *Client
	dispatcher  *Dispatcher
	sendTimeout time.Duration

	inflight sync.WaitGroup
}

// NewGateway creates a gateway sending as self
func NewGateway(self reconcile.Address, client *Client, dispatcher *Dispatcher, sendTimeout time.Duration) *Gateway {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Gateway{
		self:        self,
		client:      client,
		dispatcher:  dispatcher,
		sendTimeout: sendTimeout,
	}
}

// OOB returns the out-of-band channel
func (g *Gateway) OOB() reconcile.Channel {
	return reconcile.ChannelOOB
}

// Send delivers msg to every address. It never blocks on the network and
// never reports failures to the caller.
func (g *Gateway) Send(addrs []reconcile.Address, msg reconcile.Message, ch reconcile.Channel) {
	env, err := g.dispatcher.Encode(msg)
	if err != nil {
		log.Error().Err(err).Uint8("type", msg.Type()).Msg("Failed to encode outgoing message")
		return
	}

	for _, addr := range addrs {
		telemetry.MessagesTotal.With("sent", ch.String()).Inc()

		if addr == g.self {
			if _, err := g.dispatcher.Dispatch(g.self, env); err != nil {
				log.Error().Err(err).Msg("Local delivery failed")
			}
			continue
		}

		g.inflight.Add(1)
		go g.deliver(addr, ch, env)
	}
}

func (g *Gateway) deliver(addr reconcile.Address, ch reconcile.Channel, env *Envelope) {
	defer g.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), g.sendTimeout)
	defer cancel()

	start := time.Now()
	err := g.client.Deliver(ctx, string(addr), ch, env)
	telemetry.SendSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.SendFailuresTotal.With(ch.String()).Inc()
		log.Warn().
			Err(err).
			Str("address", string(addr)).
			Str("channel", ch.String()).
			Msg("Message delivery failed")
	}
}

// Wait blocks until every in-flight delivery has finished
func (g *Gateway) Wait() {
	g.inflight.Wait()
}

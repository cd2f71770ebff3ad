package grpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/viewsync/cfg"
	"github.com/maxpert/viewsync/reconcile"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

const (
	maxMessageSize = 4 * 1024 * 1024
	numChannels    = 2
)

// ErrClientClosed is returned by deliveries attempted after Close
var ErrClientClosed = errors.New("client closed")

// peerConns holds one connection per channel so out-of-band traffic never
// shares a transport with default traffic
type peerConns struct {
	address  string
	channels [numChannels]*grpc.ClientConn
}

func (p *peerConns) close() {
	for i, conn := range p.channels {
		if conn != nil {
			conn.Close()
			p.channels[i] = nil
		}
	}
}

// Client manages gRPC connections to peer nodes keyed by advertise address
type Client struct {
	self      string
	peers     map[string]*peerConns
	extraOpts []grpc.DialOption
	mu        sync.RWMutex
	closed    bool
}

// NewClient creates a new gRPC client manager. self is attached to every
// outgoing call as the origin address.
func NewClient(self string, opts ...grpc.DialOption) *Client {
	return &Client{
		self:      self,
		peers:     make(map[string]*peerConns),
		extraOpts: opts,
	}
}

// createDialOptions returns common gRPC dial options
func (c *Client) createDialOptions() []grpc.DialOption {
	keepaliveTime := 10 * time.Second
	keepaliveTimeout := 3 * time.Second
	if cfg.Config != nil {
		keepaliveTime = time.Duration(cfg.Config.Transport.KeepaliveTimeSeconds) * time.Second
		keepaliveTimeout = time.Duration(cfg.Config.Transport.KeepaliveTimeoutSeconds) * time.Second
	}

	callOpts := []grpc.CallOption{
		grpc.MaxCallRecvMsgSize(maxMessageSize),
		grpc.MaxCallSendMsgSize(maxMessageSize),
	}
	if name := GetCompressionName(); name != "" {
		callOpts = append(callOpts, grpc.UseCompressor(name))
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithChainUnaryInterceptor(
			UnaryClientInterceptor(),
			OriginClientInterceptor(c.self),
		),
	}
	return append(opts, c.extraOpts...)
}

// conn returns the connection for address on channel ch, dialing lazily
func (c *Client) conn(address string, ch reconcile.Channel) (*grpc.ClientConn, error) {
	idx := int(ch)
	if idx >= numChannels {
		return nil, fmt.Errorf("unknown channel %d", ch)
	}

	c.mu.RLock()
	p, exists := c.peers[address]
	if exists && p.channels[idx] != nil {
		conn := p.channels[idx]
		c.mu.RUnlock()
		return conn, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	p, exists = c.peers[address]
	if !exists {
		p = &peerConns{address: address}
		c.peers[address] = p
	}
	if p.channels[idx] != nil {
		return p.channels[idx], nil
	}

	conn, err := grpc.NewClient("passthrough:///"+address, c.createDialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection to %s: %w", address, err)
	}
	p.channels[idx] = conn

	log.Debug().
		Str("address", address).
		Str("channel", ch.String()).
		Msg("Connection created")

	return conn, nil
}

// Deliver sends one envelope to address on channel ch
func (c *Client) Deliver(ctx context.Context, address string, ch reconcile.Channel, env *Envelope) error {
	conn, err := c.conn(address, ch)
	if err != nil {
		return err
	}

	ctx = metadata.AppendToOutgoingContext(ctx, ChannelHeader, ch.String())
	resp, err := NewDeliveryClient(conn).Deliver(ctx, env)
	if err != nil {
		return fmt.Errorf("deliver to %s failed: %w", address, err)
	}
	if !resp.Accepted {
		log.Debug().
			Str("address", address).
			Uint8("type", env.Type).
			Msg("Peer did not accept message")
	}
	return nil
}

// Retain closes connections to every peer not in members
func (c *Client) Retain(members []reconcile.Address) {
	keep := make(map[string]struct{}, len(members))
	for _, m := range members {
		keep[string(m)] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for address, p := range c.peers {
		if _, ok := keep[address]; ok {
			continue
		}
		log.Info().Str("address", address).Msg("Peer left view, closing connections")
		p.close()
		delete(c.peers, address)
	}
}

// Disconnect closes the connections to a peer
func (c *Client) Disconnect(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, exists := c.peers[address]; exists {
		log.Debug().Str("address", address).Msg("Closing connections")
		p.close()
		delete(c.peers, address)
	}
}

// Peers returns the addresses with at least one open connection, sorted
func (c *Client) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.peers))
	for address := range c.peers {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}

// Close closes all peer connections. Deliveries attempted afterwards fail
// with ErrClientClosed instead of dialing again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	for _, p := range c.peers {
		p.close()
	}
	c.peers = make(map[string]*peerConns)
	return nil
}

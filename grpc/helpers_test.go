package grpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/viewsync/reconcile"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// bufNetwork routes dials by address to in-memory listeners
type bufNetwork struct {
	mu        sync.Mutex
	listeners map[string]*bufconn.Listener
}

func newBufNetwork() *bufNetwork {
	return &bufNetwork{listeners: make(map[string]*bufconn.Listener)}
}

func (n *bufNetwork) dialer() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		n.mu.Lock()
		lis, ok := n.listeners[addr]
		n.mu.Unlock()
		if !ok {
			return nil, &net.OpError{Op: "dial", Net: "bufconn", Err: net.ErrClosed}
		}
		return lis.DialContext(ctx)
	})
}

// testNode is one in-memory peer with its own dispatcher and gateway
type testNode struct {
	addr       reconcile.Address
	dispatcher *Dispatcher
	server     *Server
	client     *Client
	gateway    *Gateway
	grpcServer *grpc.Server
}

func (n *bufNetwork) startNode(t *testing.T, addr reconcile.Address) *testNode {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	n.mu.Lock()
	n.listeners[string(addr)] = lis
	n.mu.Unlock()

	d := NewDispatcher(reconcile.NodeStateCodec{})
	s := NewServer(ServerConfig{}, d)
	gs := s.NewGRPCServer()
	go gs.Serve(lis)

	client := NewClient(string(addr), n.dialer())
	node := &testNode{
		addr:       addr,
		dispatcher: d,
		server:     s,
		client:     client,
		gateway:    NewGateway(addr, client, d, time.Second),
		grpcServer: gs,
	}

	t.Cleanup(func() {
		client.Close()
		gs.Stop()
		lis.Close()
	})
	return node
}

// recordingReceiver collects every message it is handed
type recordingReceiver struct {
	mu       sync.Mutex
	types    []uint8
	messages []reconcile.Message
	notify   chan struct{}
}

func newRecordingReceiver(types ...uint8) *recordingReceiver {
	return &recordingReceiver{types: types, notify: make(chan struct{}, 64)}
}

func (r *recordingReceiver) OnMessage(msg reconcile.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recordingReceiver) InterestedTypes() []uint8 {
	return r.types
}

func (r *recordingReceiver) Messages() []reconcile.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reconcile.Message(nil), r.messages...)
}

func (r *recordingReceiver) waitFor(t *testing.T, count int) []reconcile.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if msgs := r.Messages(); len(msgs) >= count {
			return msgs
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, have %d", count, len(r.Messages()))
		}
	}
}

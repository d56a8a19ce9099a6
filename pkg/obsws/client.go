package obsws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"example.com/obsws/internal/protocol"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultBroadcastCap     = 100

	writeTimeout = 5 * time.Second
	closeTimeout = 500 * time.Millisecond

	maxFrameSize = 64 << 20
)

// Config describes one connection to an obs-websocket server.
type Config struct {
	Host string
	Port int
	// TLS dials wss:// instead of ws://. Only useful for remote servers.
	TLS bool
	// Password for servers with authentication enabled. Leaving it empty
	// against such a server fails the handshake with ErrNoPassword.
	Password string

	// EventSubscriptions selects the event categories to receive. Nil keeps
	// the server default (all non-high-volume categories).
	EventSubscriptions *EventSubscription

	// BroadcastCapacity is the per-subscription event buffer. Default 100.
	// See EventStream for the overflow behavior.
	BroadcastCapacity int

	// HandshakeTimeout bounds the wait for the server's handshake messages.
	// Default 5s.
	HandshakeTimeout time.Duration

	// Dialer overrides the websocket dialer, for custom TLS or proxy setups.
	Dialer *websocket.Dialer

	// Logger for connection diagnostics. Default zap.NewNop().
	Logger *zap.Logger
}

// Client is an identified session on one WebSocket connection. It is safe
// for concurrent use; requests issued from multiple goroutines are
// correlated independently and may complete in any order.
//
// A client has exactly one lifetime: once the connection terminates, for
// any reason, every operation returns ErrDisconnected and a new client
// must be connected.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	wmu   sync.Mutex // serializes writes to the socket
	idSeq atomic.Uint64

	pending *pendingTable
	reid    *reidentifyQueue
	events  *broadcaster

	rpcVersion uint32 // negotiated during the handshake, immutable after

	closed atomic.Bool
	done   chan struct{} // closed when the read loop has fully shut down
}

// Connect dials the server, runs the Hello → Identify → Identified
// handshake and returns an active client with its read loop running.
//
// Any handshake failure closes the socket and returns an error; a partially
// identified client is never returned.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.BroadcastCapacity <= 0 {
		cfg.BroadcastCapacity = defaultBroadcastCap
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	scheme := "ws"
	if cfg.TLS {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.Dialer != nil {
		dialer = *cfg.Dialer
	}
	dialer.Subprotocols = append([]string{"obswebsocket.json"}, dialer.Subprotocols...)

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("obsws: connect %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)

	c := &Client{
		conn:    conn,
		log:     cfg.Logger,
		pending: newPendingTable(),
		reid:    newReidentifyQueue(),
		events:  newBroadcaster(cfg.BroadcastCapacity),
		done:    make(chan struct{}),
	}

	if err := c.handshake(cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// RPCVersion is the protocol version negotiated during the handshake.
func (c *Client) RPCVersion() uint32 { return c.rpcVersion }

// Done is closed once the connection has terminated and all pending work
// has been failed over.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) active() bool { return !c.closed.Load() }

// write sends one frame. The mutex plus the write deadline is the only
// write path; concurrent senders never interleave partial frames.
func (c *Client) write(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Events returns a new, independent subscription to the server's event
// stream, starting from now. Returns ErrDisconnected on a terminated
// client.
func (c *Client) Events() (*EventStream, error) {
	if s := c.events.subscribe(); s != nil {
		return s, nil
	}
	return nil, ErrDisconnected
}

// Reidentify renegotiates the session's event subscriptions without
// reconnecting. Confirmations carry no correlation id on the wire, so
// concurrent calls are resolved strictly in the order they were issued.
func (c *Client) Reidentify(ctx context.Context, subs EventSubscription) error {
	if !c.active() {
		return ErrDisconnected
	}
	w := c.reid.enqueue()
	if w == nil {
		return ErrDisconnected
	}

	mask := uint32(subs)
	frame, err := protocol.Marshal(protocol.OpReidentify, protocol.Reidentify{
		EventSubscriptions: &mask,
	})
	if err != nil {
		c.reid.cancel(w)
		return fmt.Errorf("obsws: serialize reidentify: %w", err)
	}
	if err := c.write(frame); err != nil {
		c.reid.cancel(w)
		return fmt.Errorf("obsws: send reidentify: %w", err)
	}

	select {
	case identified, ok := <-w.ch:
		if !ok {
			return ErrDisconnected
		}
		if identified.NegotiatedRPCVersion != c.rpcVersion {
			return &RPCVersionError{Requested: c.rpcVersion, Negotiated: identified.NegotiatedRPCVersion}
		}
		return nil
	case <-ctx.Done():
		c.reid.cancel(w)
		return ctx.Err()
	}
}

// Disconnect closes the connection gracefully and waits until every
// pending request, reidentify waiter and event subscription has been
// failed over. Safe to call more than once.
func (c *Client) Disconnect() {
	if !c.closed.Swap(true) {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"),
			time.Now().Add(closeTimeout))
		_ = c.conn.Close()
	}
	<-c.done
}

package obsws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/obsws/internal/protocol"
)

// serverOptions configures the in-process fake server. The zero value is a
// plain server without authentication that identifies with RPC version 1
// and ignores every frame after the handshake.
type serverOptions struct {
	// password enables authentication; the server issues a fixed challenge
	// and verifies the client's derivation against it.
	password string
	// negotiated overrides the rpc version confirmed in Identified.
	negotiated uint32
	// firstFrame replaces the Hello message entirely.
	firstFrame []byte
	// silent upgrades the connection but never sends anything.
	silent bool
	// onMessage handles every decoded frame after the handshake. It runs
	// on the connection's reader goroutine, so writes need no locking.
	onMessage func(conn *websocket.Conn, env protocol.Envelope)
}

const (
	testChallenge = "ztTBnnuqrqaKDzRM3xcVdbYm"
	testSalt      = "PZVbYpvAnZut2SS6JNJytDm9"
)

func writeFrame(t *testing.T, conn *websocket.Conn, op int, d any) {
	t.Helper()
	frame, err := protocol.Marshal(op, d)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// startServer runs a fake obs-websocket endpoint and returns a Config
// pointing at it.
func startServer(t *testing.T, opts serverOptions) Config {
	t.Helper()
	if opts.negotiated == 0 {
		opts.negotiated = protocol.RPCVersion
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if opts.silent {
			_, _, _ = conn.ReadMessage() // park until the client gives up
			return
		}

		if opts.firstFrame != nil {
			if err := conn.WriteMessage(websocket.TextMessage, opts.firstFrame); err != nil {
				return
			}
		} else {
			hello := protocol.Hello{ObsWebSocketVersion: "5.3.3", RPCVersion: protocol.RPCVersion}
			if opts.password != "" {
				hello.Authentication = &protocol.Authentication{
					Challenge: testChallenge,
					Salt:      testSalt,
				}
			}
			writeFrame(t, conn, protocol.OpHello, hello)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, protocol.OpIdentify, env.Op)
		var identify protocol.Identify
		require.NoError(t, json.Unmarshal(env.D, &identify))

		if opts.password != "" {
			want := protocol.AuthResponse(opts.password, testSalt, testChallenge)
			if identify.Authentication != want {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(protocol.CloseAuthenticationFailed, "auth failed"),
					time.Now().Add(time.Second))
				return
			}
		}

		writeFrame(t, conn, protocol.OpIdentified, protocol.Identified{
			NegotiatedRPCVersion: opts.negotiated,
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if opts.onMessage != nil {
				opts.onMessage(conn, env)
			}
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Config{Host: host, Port: port, Password: opts.password}
}

func connectTest(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)
	return client
}

// echoServer answers every single request by echoing its requestData as
// responseData.
func echoServer(t *testing.T) Config {
	return startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			if env.Op != protocol.OpRequest {
				return
			}
			var req protocol.Request
			require.NoError(t, json.Unmarshal(env.D, &req))
			writeFrame(t, conn, protocol.OpRequestResponse, protocol.RequestResponse{
				RequestType:   req.RequestType,
				RequestID:     req.RequestID,
				RequestStatus: protocol.RequestStatus{Result: true, Code: 100},
				ResponseData:  req.RequestData,
			})
		},
	})
}

func TestConnectHandshake(t *testing.T) {
	client := connectTest(t, startServer(t, serverOptions{}))
	assert.Equal(t, protocol.RPCVersion, client.RPCVersion())
}

func TestConnectWithAuthentication(t *testing.T) {
	// The fake server computes the reference derivation itself; connecting
	// successfully proves the client's auth string matches byte for byte.
	client := connectTest(t, startServer(t, serverOptions{password: "supersecretpassword"}))
	assert.Equal(t, protocol.RPCVersion, client.RPCVersion())
}

func TestConnectMissingPassword(t *testing.T) {
	cfg := startServer(t, serverOptions{password: "supersecretpassword"})
	cfg.Password = ""

	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPassword)

	var hs *HandshakeError
	require.ErrorAs(t, err, &hs)
	assert.Equal(t, "identify", hs.Stage)
}

func TestConnectVersionMismatch(t *testing.T) {
	cfg := startServer(t, serverOptions{negotiated: 2})

	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)

	var ve *RPCVersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, protocol.RPCVersion, ve.Requested)
	assert.Equal(t, uint32(2), ve.Negotiated)
}

func TestConnectHelloTimeout(t *testing.T) {
	cfg := startServer(t, serverOptions{silent: true})
	cfg.HandshakeTimeout = 100 * time.Millisecond

	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestConnectUnexpectedFirstMessage(t *testing.T) {
	frame, err := protocol.Marshal(protocol.OpEvent, protocol.Event{EventType: "Surprise"})
	require.NoError(t, err)
	cfg := startServer(t, serverOptions{firstFrame: frame})

	_, err = Connect(context.Background(), cfg)
	require.Error(t, err)

	var hs *HandshakeError
	require.ErrorAs(t, err, &hs)
	assert.Equal(t, "hello", hs.Stage)
}

func TestConnectRefused(t *testing.T) {
	// Pick a port with nothing listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	_, err = Connect(context.Background(), Config{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
}

func TestRequestsCorrelatedUnderReversedReplies(t *testing.T) {
	const n = 8

	var (
		mu       sync.Mutex
		requests []protocol.Request
	)
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			if env.Op != protocol.OpRequest {
				return
			}
			var req protocol.Request
			require.NoError(t, json.Unmarshal(env.D, &req))

			mu.Lock()
			requests = append(requests, req)
			ready := len(requests) == n
			mu.Unlock()
			if !ready {
				return
			}
			// All requests collected; answer them in reverse order.
			for i := n - 1; i >= 0; i-- {
				writeFrame(t, conn, protocol.OpRequestResponse, protocol.RequestResponse{
					RequestID:     requests[i].RequestID,
					RequestStatus: protocol.RequestStatus{Result: true, Code: 100},
					ResponseData:  requests[i].RequestData,
				})
			}
		},
	})
	client := connectTest(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out struct {
				I int `json:"i"`
			}
			err := client.Send(context.Background(), "Echo", map[string]int{"i": i}, &out)
			assert.NoError(t, err)
			assert.Equal(t, i, out.I, "caller received another caller's response")
		}(i)
	}
	wg.Wait()
}

func TestMalformedFrameResilience(t *testing.T) {
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			if env.Op != protocol.OpRequest {
				return
			}
			var req protocol.Request
			require.NoError(t, json.Unmarshal(env.D, &req))
			// Garbage between two valid frames must only cost the one frame.
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
			writeFrame(t, conn, protocol.OpRequestResponse, protocol.RequestResponse{
				RequestID:     req.RequestID,
				RequestStatus: protocol.RequestStatus{Result: true, Code: 100},
			})
		},
	})
	client := connectTest(t, cfg)

	require.NoError(t, client.Send(context.Background(), "First", nil, nil))
	require.NoError(t, client.Send(context.Background(), "Second", nil, nil))
}

func TestAPIErrorSurfaced(t *testing.T) {
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			var req protocol.Request
			require.NoError(t, json.Unmarshal(env.D, &req))
			writeFrame(t, conn, protocol.OpRequestResponse, protocol.RequestResponse{
				RequestID: req.RequestID,
				RequestStatus: protocol.RequestStatus{
					Result: false, Code: 600, Comment: "no such scene",
				},
			})
		},
	})
	client := connectTest(t, cfg)

	err := client.Send(context.Background(), "GetSceneItemId", map[string]string{"sceneName": "nope"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, StatusResourceNotFound, apiErr.Code)
	assert.Equal(t, "no such scene", apiErr.Comment)
}

func TestResponseShapeMismatch(t *testing.T) {
	client := connectTest(t, echoServer(t))

	var out struct {
		Count int `json:"count"`
	}
	err := client.Send(context.Background(), "Echo", map[string]string{"count": "three"}, &out)

	var shapeErr *ResponseShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "Echo", shapeErr.RequestType)
}

func TestCallGeneric(t *testing.T) {
	client := connectTest(t, echoServer(t))

	out, err := Call[struct {
		Name string `json:"name"`
	}](context.Background(), client, "Echo", map[string]string{"name": "studio"})
	require.NoError(t, err)
	assert.Equal(t, "studio", out.Name)
}

func TestSendAfterDisconnect(t *testing.T) {
	client := connectTest(t, startServer(t, serverOptions{}))
	client.Disconnect()

	err := client.Send(context.Background(), "GetVersion", nil, nil)
	assert.ErrorIs(t, err, ErrDisconnected)

	_, err = client.Events()
	assert.ErrorIs(t, err, ErrDisconnected)

	err = client.Reidentify(context.Background(), SubNone)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDrainOnServerClose(t *testing.T) {
	const k = 5

	var (
		mu   sync.Mutex
		seen int
	)
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			mu.Lock()
			seen++
			ready := seen == k
			mu.Unlock()
			if ready {
				// Never answer; kill the connection instead.
				_ = conn.Close()
			}
		},
	})
	client := connectTest(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.Send(context.Background(), "NeverAnswered", nil, nil)
			assert.ErrorIs(t, err, ErrDisconnected)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, client.pending.size())

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not observe termination")
	}
}

// brokenWriteClient builds a client over a live WebSocket whose underlying
// transport has been severed, without a read loop. The client still
// believes it is active, so the next Send registers an entry and then hits
// the write-failure path.
func brokenWriteClient(t *testing.T) *Client {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+u.Host, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.UnderlyingConn().Close())

	return &Client{
		conn:    conn,
		log:     zap.NewNop(),
		pending: newPendingTable(),
		reid:    newReidentifyQueue(),
		events:  newBroadcaster(4),
		done:    make(chan struct{}),
	}
}

func TestSendFailureAbandonsPendingEntry(t *testing.T) {
	client := brokenWriteClient(t)

	err := client.Send(context.Background(), "GetVersion", nil, nil)
	require.Error(t, err)
	// A send failure is scoped to this request; it is not a session-level
	// disconnect.
	assert.NotErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, client.pending.size(), "failed send leaked its table entry")
}

func TestSendBatchFailureAbandonsPendingEntry(t *testing.T) {
	client := brokenWriteClient(t)

	_, err := client.SendBatch(context.Background(), Batch{
		Requests: []BatchRequest{{Type: "StartRecord"}},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, 0, client.pending.size(), "failed batch send leaked its table entry")
}

func TestSendContextCancelAbandons(t *testing.T) {
	// Server reads requests and never answers.
	client := connectTest(t, startServer(t, serverOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Send(ctx, "NeverAnswered", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, client.pending.size(), "abandoned entry leaked")
}

func TestEventsDeliveredInOrder(t *testing.T) {
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			var req protocol.Request
			require.NoError(t, json.Unmarshal(env.D, &req))
			// Events go out before the response; by the time Send returns
			// the router has already published them.
			writeFrame(t, conn, protocol.OpEvent, protocol.Event{
				EventType: "RecordStateChanged", EventIntent: uint32(SubOutputs),
			})
			writeFrame(t, conn, protocol.OpEvent, protocol.Event{
				EventType: "StreamStateChanged", EventIntent: uint32(SubOutputs),
			})
			writeFrame(t, conn, protocol.OpRequestResponse, protocol.RequestResponse{
				RequestID:     req.RequestID,
				RequestStatus: protocol.RequestStatus{Result: true, Code: 100},
			})
		},
	})
	client := connectTest(t, cfg)

	first, err := client.Events()
	require.NoError(t, err)
	second, err := client.Events()
	require.NoError(t, err)

	require.NoError(t, client.Send(context.Background(), "Emit", nil, nil))

	// Both pre-existing subscriptions observe both events, in wire order.
	for _, s := range []*EventStream{first, second} {
		ev := <-s.C
		assert.Equal(t, "RecordStateChanged", ev.Type)
		assert.Equal(t, SubOutputs, ev.Intent)
		assert.Equal(t, "StreamStateChanged", (<-s.C).Type)
	}

	// A subscription created now has seen nothing.
	late, err := client.Events()
	require.NoError(t, err)
	select {
	case ev := <-late.C:
		t.Fatalf("late subscription replayed event %q", ev.Type)
	default:
	}
}

func TestEventStreamEndsOnDisconnect(t *testing.T) {
	client := connectTest(t, startServer(t, serverOptions{}))

	stream, err := client.Events()
	require.NoError(t, err)

	client.Disconnect()

	select {
	case _, open := <-stream.C:
		assert.False(t, open, "stream must end, not deliver")
	case <-time.After(time.Second):
		t.Fatal("stream did not end on disconnect")
	}
}

func TestReidentify(t *testing.T) {
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			if env.Op != protocol.OpReidentify {
				return
			}
			var re protocol.Reidentify
			require.NoError(t, json.Unmarshal(env.D, &re))
			require.NotNil(t, re.EventSubscriptions)
			writeFrame(t, conn, protocol.OpIdentified, protocol.Identified{
				NegotiatedRPCVersion: protocol.RPCVersion,
			})
		},
	})
	client := connectTest(t, cfg)

	require.NoError(t, client.Reidentify(context.Background(), SubAll))
	require.NoError(t, client.Reidentify(context.Background(), SubNone))
}

func TestSendBatch(t *testing.T) {
	cfg := startServer(t, serverOptions{
		onMessage: func(conn *websocket.Conn, env protocol.Envelope) {
			if env.Op != protocol.OpRequestBatch {
				return
			}
			var batch protocol.RequestBatch
			require.NoError(t, json.Unmarshal(env.D, &batch))

			results := make([]protocol.RequestResponse, len(batch.Requests))
			for i, item := range batch.Requests {
				results[i] = protocol.RequestResponse{
					RequestType:   item.RequestType,
					RequestID:     item.RequestID,
					RequestStatus: protocol.RequestStatus{Result: true, Code: 100},
					ResponseData:  item.RequestData,
				}
				if item.RequestType == "Broken" {
					results[i].RequestStatus = protocol.RequestStatus{
						Result: false, Code: 204, Comment: "unknown request type",
					}
				}
			}
			writeFrame(t, conn, protocol.OpRequestBatchResponse, protocol.RequestBatchResponse{
				RequestID: batch.RequestID,
				Results:   results,
			})
		},
	})
	client := connectTest(t, cfg)

	results, err := client.SendBatch(context.Background(), Batch{
		Requests: []BatchRequest{
			{Type: "Echo", ID: "keep-me", Data: map[string]int{"n": 1}},
			{Type: "Broken"},
			{Type: "Echo", Data: map[string]int{"n": 3}},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Order and per-item outcome are preserved.
	assert.Equal(t, "keep-me", results[0].ID)
	var out struct {
		N int `json:"n"`
	}
	require.NoError(t, results[0].Bind(&out))
	assert.Equal(t, 1, out.N)

	var apiErr *APIError
	require.ErrorAs(t, results[1].Err(), &apiErr)
	assert.Equal(t, StatusUnknownRequestType, apiErr.Code)

	require.NoError(t, results[2].Bind(&out))
	assert.Equal(t, 3, out.N)
	assert.NotEmpty(t, results[2].ID, "blank batch item ids are filled in")
}

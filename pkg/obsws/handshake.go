package obsws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"example.com/obsws/internal/protocol"
)

// handshake drives the connection from a raw socket to an identified
// session: wait for Hello, answer with Identify (computing the auth
// response when challenged), wait for Identified and verify the negotiated
// RPC version. The read loop is not running yet; all reads happen inline
// under a bounded deadline.
func (c *Client) handshake(cfg Config) error {
	env, err := c.readHandshakeFrame(cfg.HandshakeTimeout)
	if err != nil {
		return &HandshakeError{Stage: "hello", Err: err}
	}
	if env.Op != protocol.OpHello {
		return &HandshakeError{Stage: "hello", Err: fmt.Errorf("unexpected opcode %d", env.Op)}
	}
	var hello protocol.Hello
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return &HandshakeError{Stage: "hello", Err: fmt.Errorf("decode payload: %w", err)}
	}

	identify := protocol.Identify{RPCVersion: protocol.RPCVersion}
	if hello.Authentication != nil {
		if cfg.Password == "" {
			return &HandshakeError{Stage: "identify", Err: ErrNoPassword}
		}
		identify.Authentication = protocol.AuthResponse(
			cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if cfg.EventSubscriptions != nil {
		mask := uint32(*cfg.EventSubscriptions)
		identify.EventSubscriptions = &mask
	}

	frame, err := protocol.Marshal(protocol.OpIdentify, identify)
	if err != nil {
		return &HandshakeError{Stage: "identify", Err: fmt.Errorf("serialize: %w", err)}
	}
	if err := c.write(frame); err != nil {
		return &HandshakeError{Stage: "identify", Err: fmt.Errorf("send: %w", err)}
	}

	env, err = c.readHandshakeFrame(cfg.HandshakeTimeout)
	if err != nil {
		return &HandshakeError{Stage: "identified", Err: err}
	}
	if env.Op != protocol.OpIdentified {
		return &HandshakeError{Stage: "identified", Err: fmt.Errorf("unexpected opcode %d", env.Op)}
	}
	var identified protocol.Identified
	if err := json.Unmarshal(env.D, &identified); err != nil {
		return &HandshakeError{Stage: "identified", Err: fmt.Errorf("decode payload: %w", err)}
	}
	if identified.NegotiatedRPCVersion != protocol.RPCVersion {
		return &HandshakeError{Stage: "identified", Err: &RPCVersionError{
			Requested:  protocol.RPCVersion,
			Negotiated: identified.NegotiatedRPCVersion,
		}}
	}

	c.rpcVersion = identified.NegotiatedRPCVersion
	_ = c.conn.SetReadDeadline(time.Time{})
	c.log.Debug("identified", zap.Uint32("rpc_version", c.rpcVersion))
	return nil
}

// readHandshakeFrame reads one envelope with a deadline, mapping transport
// failures to the handshake error taxonomy.
func (c *Client) readHandshakeFrame(timeout time.Duration) (*protocol.Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrHandshakeTimeout
		}
		return nil, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

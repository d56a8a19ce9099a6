// Package protocol implements the obs-websocket v5 wire format: the {op, d}
// envelope, the payloads of every opcode the client produces or consumes,
// and the challenge-response authentication derivation.
//
// All payloads are flat structs with camelCase JSON tags matching the
// protocol document byte for byte. The package is purely a codec; it holds
// no connection state.
package protocol

import "encoding/json"

// RPCVersion is the protocol revision this client speaks. It is sent in
// Identify and must be echoed back by the server in Identified.
const RPCVersion uint32 = 1

// Opcodes of the {op, d} envelope.
const (
	OpHello                = 0
	OpIdentify             = 1
	OpIdentified           = 2
	OpReidentify           = 3
	OpEvent                = 5
	OpRequest              = 6
	OpRequestResponse      = 7
	OpRequestBatch         = 8
	OpRequestBatchResponse = 9
)

// Envelope is the outer wrapper around every frame. D stays raw so a frame
// can be classified by opcode before its payload is decoded.
type Envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Marshal wraps a payload into an envelope with the given opcode and
// serializes the whole frame.
func Marshal(op int, d any) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Op: op, D: raw})
}

// ---- server → client payloads ----

// Hello is the first message sent by the server on connection.
type Hello struct {
	ObsWebSocketVersion string          `json:"obsWebSocketVersion"`
	RPCVersion          uint32          `json:"rpcVersion"`
	Authentication      *Authentication `json:"authentication"`
}

// Authentication carries the challenge data of a password-protected server.
type Authentication struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Identified confirms the handshake or a later Reidentify.
type Identified struct {
	NegotiatedRPCVersion uint32 `json:"negotiatedRpcVersion"`
}

// Event is an unsolicited notification.
type Event struct {
	EventType   string          `json:"eventType"`
	EventIntent uint32          `json:"eventIntent"`
	EventData   json.RawMessage `json:"eventData"`
}

// RequestResponse answers a single Request, correlated by RequestID.
type RequestResponse struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus RequestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData"`
}

// RequestStatus reports the outcome of one request or batch item.
type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// RequestBatchResponse answers a RequestBatch; Results preserves the order
// of the submitted sub-requests.
type RequestBatchResponse struct {
	RequestID string            `json:"requestId"`
	Results   []RequestResponse `json:"results"`
}

// ---- client → server payloads ----

// Identify answers Hello. Authentication is present only when the server
// issued a challenge; EventSubscriptions is the event category bitmask.
type Identify struct {
	RPCVersion         uint32  `json:"rpcVersion"`
	Authentication     string  `json:"authentication,omitempty"`
	EventSubscriptions *uint32 `json:"eventSubscriptions,omitempty"`
}

// Reidentify renegotiates session parameters without reconnecting.
type Reidentify struct {
	EventSubscriptions *uint32 `json:"eventSubscriptions,omitempty"`
}

// Request is a single named request. RequestData is kept raw so the caller
// owns the payload shape.
type Request struct {
	RequestID   string          `json:"requestId"`
	RequestType string          `json:"requestType"`
	RequestData json.RawMessage `json:"requestData,omitempty"`
}

// RequestBatch submits an ordered list of sub-requests in one envelope.
type RequestBatch struct {
	RequestID     string         `json:"requestId"`
	HaltOnFailure *bool          `json:"haltOnFailure,omitempty"`
	ExecutionType *int8          `json:"executionType,omitempty"`
	Requests      []BatchRequest `json:"requests"`
}

// BatchRequest is one item of a RequestBatch. Its RequestID is independent
// of the envelope's and is echoed in the matching result.
type BatchRequest struct {
	RequestID   string          `json:"requestId,omitempty"`
	RequestType string          `json:"requestType"`
	RequestData json.RawMessage `json:"requestData,omitempty"`
}

// Batch execution types a client may request.
const (
	ExecutionSerialRealtime int8 = 0
	ExecutionSerialFrame    int8 = 1
	ExecutionParallel       int8 = 2
)

// Close codes the server uses when it terminates a session. 4000 range,
// beyond the standard WebSocket codes.
const (
	CloseUnknownReason         = 4000
	CloseMessageDecodeError    = 4002
	CloseMissingDataField      = 4003
	CloseInvalidDataFieldType  = 4004
	CloseInvalidDataFieldValue = 4005
	CloseUnknownOpCode         = 4006
	CloseNotIdentified         = 4007
	CloseAlreadyIdentified     = 4008
	CloseAuthenticationFailed  = 4009
	CloseUnsupportedRPCVersion = 4010
	CloseSessionInvalidated    = 4011
	CloseUnsupportedFeature    = 4012
)

package obsws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/obsws/internal/protocol"
)

// Send issues one named request and waits for its response. requestData is
// serialized as the requestData object (nil for requests without one); the
// response data is unmarshaled into out (pass nil to discard it).
//
// The error distinguishes the failure classes: ErrDisconnected when the
// session is (or becomes) unusable, *APIError when the server rejected the
// request, *ResponseShapeError when the response doesn't fit out, and
// plain wrapped errors for local serialize/send failures. Cancelling ctx
// abandons the request; a late response is then dropped as stale.
func (c *Client) Send(ctx context.Context, requestType string, requestData, out any) error {
	if !c.active() {
		return ErrDisconnected
	}

	id := c.idSeq.Add(1)
	ch, ok := c.pending.add(id)
	if !ok {
		return ErrDisconnected
	}

	req := protocol.Request{
		RequestID:   strconv.FormatUint(id, 10),
		RequestType: requestType,
	}
	if requestData != nil {
		raw, err := json.Marshal(requestData)
		if err != nil {
			c.pending.remove(id)
			return fmt.Errorf("obsws: serialize %s request: %w", requestType, err)
		}
		req.RequestData = raw
	}
	frame, err := protocol.Marshal(protocol.OpRequest, req)
	if err != nil {
		c.pending.remove(id)
		return fmt.Errorf("obsws: serialize %s request: %w", requestType, err)
	}

	c.log.Debug("sending request", zap.String("type", requestType), zap.Uint64("id", id))
	if err := c.write(frame); err != nil {
		c.pending.remove(id)
		return fmt.Errorf("obsws: send %s request: %w", requestType, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if !res.status.Result {
			return &APIError{Code: StatusCode(res.status.Code), Comment: res.status.Comment}
		}
		if out == nil || len(res.data) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.data, out); err != nil {
			return &ResponseShapeError{RequestType: requestType, Err: err}
		}
		return nil
	case <-ctx.Done():
		c.pending.remove(id)
		return ctx.Err()
	}
}

// Call is Send with the response type supplied as a type parameter.
func Call[T any](ctx context.Context, c *Client, requestType string, requestData any) (T, error) {
	var out T
	err := c.Send(ctx, requestType, requestData, &out)
	return out, err
}

// ExecutionType selects how the server processes a batch.
type ExecutionType int8

const (
	// ExecutionSerialRealtime processes the batch serially, as fast as
	// possible. The default.
	ExecutionSerialRealtime ExecutionType = 0
	// ExecutionSerialFrame processes serially, in sync with the graphics
	// thread.
	ExecutionSerialFrame ExecutionType = 1
	// ExecutionParallel processes items on the server's thread pool.
	ExecutionParallel ExecutionType = 2
)

// Batch is an ordered list of requests submitted in one envelope.
type Batch struct {
	// HaltOnFailure stops processing at the first failed item; the
	// response then contains only the processed prefix.
	HaltOnFailure bool
	ExecutionType ExecutionType
	Requests      []BatchRequest
}

// BatchRequest is one item of a Batch. ID is optional; a blank ID is
// filled with a random one so the server can echo it in the result.
type BatchRequest struct {
	Type string
	ID   string
	Data any
}

// BatchResult is the outcome of one batch item, in submission order.
// Partial failure stays per item: inspect Err or Bind on each result.
type BatchResult struct {
	Type    string
	ID      string
	OK      bool
	Code    StatusCode
	Comment string
	Data    json.RawMessage
}

// Err returns nil for a successful item, otherwise the server's rejection
// as an *APIError.
func (r BatchResult) Err() error {
	if r.OK {
		return nil
	}
	return &APIError{Code: r.Code, Comment: r.Comment}
}

// Bind unmarshals the item's response data into out after checking Err.
func (r BatchResult) Bind(out any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if out == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return &ResponseShapeError{RequestType: r.Type, Err: err}
	}
	return nil
}

// SendBatch submits the batch and waits for the single correlated batch
// response. Results preserve the order of batch.Requests; with
// HaltOnFailure set the returned slice may be shorter than the input.
func (c *Client) SendBatch(ctx context.Context, batch Batch) ([]BatchResult, error) {
	if !c.active() {
		return nil, ErrDisconnected
	}

	id := c.idSeq.Add(1)
	ch, ok := c.pending.add(id)
	if !ok {
		return nil, ErrDisconnected
	}

	payload := protocol.RequestBatch{
		RequestID: strconv.FormatUint(id, 10),
		Requests:  make([]protocol.BatchRequest, 0, len(batch.Requests)),
	}
	if batch.HaltOnFailure {
		halt := true
		payload.HaltOnFailure = &halt
	}
	if batch.ExecutionType != ExecutionSerialRealtime {
		execution := int8(batch.ExecutionType)
		payload.ExecutionType = &execution
	}
	for _, br := range batch.Requests {
		item := protocol.BatchRequest{RequestID: br.ID, RequestType: br.Type}
		if item.RequestID == "" {
			item.RequestID = uuid.NewString()
		}
		if br.Data != nil {
			raw, err := json.Marshal(br.Data)
			if err != nil {
				c.pending.remove(id)
				return nil, fmt.Errorf("obsws: serialize %s batch item: %w", br.Type, err)
			}
			item.RequestData = raw
		}
		payload.Requests = append(payload.Requests, item)
	}

	frame, err := protocol.Marshal(protocol.OpRequestBatch, payload)
	if err != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("obsws: serialize batch: %w", err)
	}

	c.log.Debug("sending batch", zap.Int("items", len(payload.Requests)), zap.Uint64("id", id))
	if err := c.write(frame); err != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("obsws: send batch: %w", err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		results := make([]BatchResult, len(res.results))
		for i, rr := range res.results {
			results[i] = BatchResult{
				Type:    rr.RequestType,
				ID:      rr.RequestID,
				OK:      rr.RequestStatus.Result,
				Code:    StatusCode(rr.RequestStatus.Code),
				Comment: rr.RequestStatus.Comment,
				Data:    rr.ResponseData,
			}
		}
		return results, nil
	case <-ctx.Done():
		c.pending.remove(id)
		return nil, ctx.Err()
	}
}

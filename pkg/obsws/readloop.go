package obsws

import (
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"example.com/obsws/internal/protocol"
)

// readLoop is the single reader of the connection. It runs for the whole
// session, classifying every inbound frame and routing it to the pending
// table, the reidentify queue or the event broadcaster.
//
// A malformed frame is logged and skipped. A read error is terminal: the
// loop drains everything so that no caller stays blocked on a dead
// connection, then signals completion through the done channel.
func (c *Client) readLoop() {
	defer func() {
		c.closed.Store(true)
		_ = c.conn.Close()
		c.pending.drain()
		c.reid.drain()
		c.events.close()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.log.Debug("connection lost", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.route(env)
	}
}

func (c *Client) route(env protocol.Envelope) {
	switch env.Op {
	case protocol.OpRequestResponse:
		var rr protocol.RequestResponse
		if err := json.Unmarshal(env.D, &rr); err != nil {
			c.log.Warn("dropping malformed request response", zap.Error(err))
			return
		}
		id, err := strconv.ParseUint(rr.RequestID, 10, 64)
		if err != nil {
			c.log.Warn("response with foreign request id",
				zap.String("request_id", rr.RequestID))
			return
		}
		c.pending.resolve(id, response{status: rr.RequestStatus, data: rr.ResponseData})

	case protocol.OpRequestBatchResponse:
		var br protocol.RequestBatchResponse
		if err := json.Unmarshal(env.D, &br); err != nil {
			c.log.Warn("dropping malformed batch response", zap.Error(err))
			return
		}
		id, err := strconv.ParseUint(br.RequestID, 10, 64)
		if err != nil {
			c.log.Warn("batch response with foreign request id",
				zap.String("request_id", br.RequestID))
			return
		}
		c.pending.resolve(id, response{results: br.Results})

	case protocol.OpEvent:
		var ev protocol.Event
		if err := json.Unmarshal(env.D, &ev); err != nil {
			c.log.Warn("dropping malformed event", zap.Error(err))
			return
		}
		c.events.publish(Event{
			Type:   ev.EventType,
			Intent: EventSubscription(ev.EventIntent),
			Data:   ev.EventData,
		})

	case protocol.OpIdentified:
		var identified protocol.Identified
		if err := json.Unmarshal(env.D, &identified); err != nil {
			c.log.Warn("dropping malformed identified message", zap.Error(err))
			return
		}
		c.reid.satisfyNext(identified)

	default:
		// Unknown opcodes are protocol extensions we don't understand yet.
		c.log.Debug("ignoring frame with unknown opcode", zap.Int("op", env.Op))
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

var ErrDevice = errors.New("device error")

type readRequest struct {
	RequestID string `json:"request_id"`
	Probe     int    `json:"probe"`
}

type readReply struct {
	RequestID   string   `json:"request_id"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Dewpoint    *float64 `json:"dewpoint"`
	Error       string   `json:"error,omitempty"`
}

type resetRequest struct {
	RequestID string `json:"request_id"`
}

// Read asks the gateway of serial for the current values of probe p and
// waits for the reply until ctx is done.
func (c *Client) Read(ctx context.Context, serial string, p types.Probe) (types.Triple, error) {
	id := uuid.NewString()
	ch := make(chan readReply, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	req := readRequest{RequestID: id, Probe: int(p)}
	if err := c.publish(ctx, Topic(c.cfg.MQTTTopicPrefix, serial, LeafRead), req); err != nil {
		return types.Triple{}, err
	}

	select {
	case <-ctx.Done():
		return types.Triple{}, fmt.Errorf("read %s: no reply: %w", serial, ctx.Err())
	case <-c.stopCh:
		return types.Triple{}, ErrStopped
	case r := <-ch:
		if r.Error != "" {
			return types.Triple{}, fmt.Errorf("%w: %s", ErrDevice, r.Error)
		}
		if r.Temperature == nil || r.Humidity == nil || r.Dewpoint == nil {
			return types.Triple{}, fmt.Errorf("%w: incomplete reply from %s", ErrDevice, serial)
		}
		return types.Triple{Temperature: *r.Temperature, Humidity: *r.Humidity, Dewpoint: *r.Dewpoint}, nil
	}
}

func (c *Client) handleReply(topic string, payload []byte) {
	var r readReply
	if err := json.Unmarshal(payload, &r); err != nil || r.RequestID == "" {
		c.logger.Warn("failed to parse read reply", "topic", topic, "error", err, "payload", string(payload))
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[r.RequestID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("late or unknown read reply", "topic", topic, "request_id", r.RequestID)
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// Reset asks the gateway of serial to restart the iServer.
func (c *Client) Reset(ctx context.Context, serial string) error {
	err := c.publish(ctx, Topic(c.cfg.MQTTTopicPrefix, serial, LeafReset), resetRequest{RequestID: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("reset %s: %w", serial, err)
	}
	c.logger.Info("reset requested", "serial", serial)
	return nil
}

// SerialFromTopic returns the device segment of <prefix>/<serial>/<leaf>.
func SerialFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/protocol"
)

// WSClient is a test client for the broker's websocket surface.
//
// The server batches queued frames into one text message separated by
// newlines, so the read pump splits before decoding.
type WSClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan map[string]interface{}
	done   chan struct{}

	// backlog holds frames read past while waiting for a specific type, so
	// nothing is lost between WaitFor calls.
	backlog []map[string]interface{}
}

// NewWSClient connects to the test server. A non-empty sessionID binds the
// client at connect time; empty connects unbound.
func NewWSClient(t *testing.T, serverURL, sessionID string) *WSClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if sessionID != "" {
		wsURL += "?session_id=" + sessionID
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	client := &WSClient{
		t:      t,
		conn:   conn,
		frames: make(chan map[string]interface{}, 256),
		done:   make(chan struct{}),
	}
	go client.readPump()
	return client
}

func (c *WSClient) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		for _, raw := range bytes.Split(data, []byte{'\n'}) {
			if len(raw) == 0 {
				continue
			}
			var frame map[string]interface{}
			if json.Unmarshal(raw, &frame) != nil {
				continue
			}
			select {
			case c.frames <- frame:
			default:
			}
		}
	}
}

// Close drops the connection and waits for the read pump to exit.
func (c *WSClient) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
	<-c.done
}

// Send marshals and writes one frame.
func (c *WSClient) Send(msg any) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// WaitFor returns the next frame of the wanted type, buffering everything
// else for later WaitFor calls.
func (c *WSClient) WaitFor(msgType protocol.MessageType, timeout time.Duration) (map[string]interface{}, error) {
	for i, frame := range c.backlog {
		if frame["type"] == string(msgType) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return frame, nil
		}
	}

	deadline := time.After(timeout)
	for {
		select {
		case frame := <-c.frames:
			if frame["type"] == string(msgType) {
				return frame, nil
			}
			c.backlog = append(c.backlog, frame)
		case <-deadline:
			return nil, context.DeadlineExceeded
		}
	}
}

// MustWaitFor is WaitFor with a hard failure on timeout.
func (c *WSClient) MustWaitFor(msgType protocol.MessageType, timeout time.Duration) map[string]interface{} {
	c.t.Helper()
	frame, err := c.WaitFor(msgType, timeout)
	require.NoError(c.t, err, "waiting for %s frame", msgType)
	return frame
}

// Decide answers a permission request.
func (c *WSClient) Decide(requestID string, decision protocol.Decision) {
	c.Send(&protocol.PermissionResponse{
		Type:      protocol.TypePermissionResponse,
		RequestID: requestID,
		Decision:  decision,
	})
}

package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/permission"
	"github.com/toolgate/toolgate/pkg/protocol"
)

func TestSessionScopedFanOut(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	owner := NewWSClient(t, ts.Server.URL, "session-1")
	defer owner.Close()
	other := NewWSClient(t, ts.Server.URL, "session-2")
	defer other.Close()
	observer := NewWSClient(t, ts.Server.URL, "")
	defer observer.Close()

	agentDone := callTool(ts, "Edit", map[string]interface{}{"file_path": "main.go"}, "session-1")

	// The owning session and the unbound observer see the prompt.
	ownerFrame := owner.MustWaitFor(protocol.TypePermissionRequest, frameWait)
	observerFrame := observer.MustWaitFor(protocol.TypePermissionRequest, frameWait)
	assert.Equal(t, ownerFrame["id"], observerFrame["id"])

	// The other session does not.
	_, err := other.WaitFor(protocol.TypePermissionRequest, 200*time.Millisecond)
	assert.Error(t, err)

	owner.Decide(ownerFrame["id"].(string), protocol.DecisionAllow)
	<-agentDone
}

func TestCrossSessionResponseRejected(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	owner := NewWSClient(t, ts.Server.URL, "session-1")
	defer owner.Close()
	intruder := NewWSClient(t, ts.Server.URL, "session-2")
	defer intruder.Close()

	agentDone := callTool(ts, "Bash", map[string]interface{}{"command": "cat secrets"}, "session-1")

	frame := owner.MustWaitFor(protocol.TypePermissionRequest, frameWait)
	requestID := frame["id"].(string)

	// The intruder never received the request; answering it with a guessed
	// id is rejected and the request stays pending.
	intruder.Decide(requestID, protocol.DecisionAllow)
	errFrame := intruder.MustWaitFor(protocol.TypePermissionError, frameWait)
	assert.Equal(t, "Request not found in your pending queue", errFrame["error"])
	assert.Equal(t, 1, ts.Permissions.PendingCount())

	// The rightful owner still decides.
	owner.Decide(requestID, protocol.DecisionDeny)
	out := <-agentDone
	require.NoError(t, out.err)
	assert.Equal(t, permission.BehaviorDeny, out.result.Behavior)
}

func TestFirstAnswerWins(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	first := NewWSClient(t, ts.Server.URL, "session-1")
	defer first.Close()
	second := NewWSClient(t, ts.Server.URL, "session-1")
	defer second.Close()

	agentDone := callTool(ts, "Write", map[string]interface{}{"file_path": "a.txt"}, "session-1")

	f1 := first.MustWaitFor(protocol.TypePermissionRequest, frameWait)
	f2 := second.MustWaitFor(protocol.TypePermissionRequest, frameWait)
	require.Equal(t, f1["id"], f2["id"])
	requestID := f1["id"].(string)

	first.Decide(requestID, protocol.DecisionAllow)
	out := <-agentDone
	require.NoError(t, out.err)
	assert.Equal(t, permission.BehaviorAllow, out.result.Behavior)

	// The second answer arrives after resolution and is rejected.
	second.Decide(requestID, protocol.DecisionDeny)
	errFrame := second.MustWaitFor(protocol.TypePermissionError, frameWait)
	assert.Contains(t, []string{
		"Request not found in your pending queue",
		"Request not found or already resolved",
	}, errFrame["error"])
}

func TestDisconnectLeavesRequestPending(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	client := NewWSClient(t, ts.Server.URL, "session-1")

	agentDone := callTool(ts, "Read", map[string]interface{}{"file_path": "a"}, "session-1")
	frame := client.MustWaitFor(protocol.TypePermissionRequest, frameWait)
	requestID := frame["id"].(string)

	client.Close()

	// The request survives the disconnect.
	deadline := time.Now().Add(frameWait)
	for time.Now().Before(deadline) && ts.Gateway.Hub.ClientCount() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 0, ts.Gateway.Hub.ClientCount())
	assert.Equal(t, 1, ts.Permissions.PendingCount())

	// A reconnecting client picks it up via sync and answers.
	replacement := NewWSClient(t, ts.Server.URL, "")
	defer replacement.Close()
	replacement.Send(&protocol.PermissionSyncRequest{
		Type:      protocol.TypePermissionSyncRequest,
		SessionID: "session-1",
	})
	sync := replacement.MustWaitFor(protocol.TypePermissionSyncResponse, frameWait)
	pending := sync["pendingRequests"].([]interface{})
	require.Len(t, pending, 1)
	assert.Equal(t, requestID, pending[0].(map[string]interface{})["id"])

	replacement.Decide(requestID, protocol.DecisionAllow)
	out := <-agentDone
	require.NoError(t, out.err)
	assert.Equal(t, permission.BehaviorAllow, out.result.Behavior)
}

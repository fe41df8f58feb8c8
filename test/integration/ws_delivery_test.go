package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsFrame struct {
	Type    string   `json:"type"`
	Users   []string `json:"users,omitempty"`
	From    string   `json:"from,omitempty"`
	Content string   `json:"content,omitempty"`
	Text    string   `json:"text,omitempty"`
}

func dialWS(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// waitForFrame skips interleaved frames of other types until the wanted one
// arrives.
func waitForFrame(t *testing.T, conn *websocket.Conn, frameType string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %q frame before deadline", frameType)
	return wsFrame{}
}

func containsUser(users []string, id uint) bool {
	want := fmt.Sprint(id)
	for _, u := range users {
		if u == want {
			return true
		}
	}
	return false
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	baseURL, _, closeFn := newChatTestServer(t)
	defer closeFn()

	_, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, baseURL, "garbage"), nil)
	if err == nil {
		t.Fatal("dial with a bad token must fail before the upgrade")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestWebSocketPresenceSnapshotAndDirectDelivery(t *testing.T) {
	baseURL, client, closeFn := newChatTestServer(t)
	defer closeFn()

	sender := registerAndLogin(t, client, baseURL, "sender@example.com")
	receiver := registerAndLogin(t, client, baseURL, "receiver@example.com")

	recvConn := dialWS(t, websocketURL(t, baseURL, receiver.accessToken, "dm:conv-it-1"))
	snapshot := readFrame(t, recvConn)
	if snapshot.Type != "presence" {
		t.Fatalf("first frame type = %q, want presence", snapshot.Type)
	}
	if !containsUser(snapshot.Users, receiver.userID) {
		t.Fatalf("snapshot %v missing receiver %d", snapshot.Users, receiver.userID)
	}

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/conversations/conv-it-1/messages", map[string]any{
		"recipient_id": receiver.userID,
		"content":      "hello over the wire",
	}, map[string]string{"Authorization": "Bearer " + sender.accessToken})
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("send failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var sent struct {
		MessageID uint `json:"message_id"`
	}
	if err := json.Unmarshal(env.Data, &sent); err != nil || sent.MessageID == 0 {
		t.Fatalf("send response missing message id: %v %+v", err, sent)
	}

	frame := waitForFrame(t, recvConn, "dm")
	if frame.Content != "hello over the wire" || frame.From != fmt.Sprint(sender.userID) {
		t.Fatalf("unexpected delivery frame: %+v", frame)
	}
}

func TestWebSocketTwoSocketsSameUserBothReceive(t *testing.T) {
	baseURL, client, closeFn := newChatTestServer(t)
	defer closeFn()

	sender := registerAndLogin(t, client, baseURL, "sender@example.com")
	receiver := registerAndLogin(t, client, baseURL, "receiver@example.com")

	connA := dialWS(t, websocketURL(t, baseURL, receiver.accessToken, "dm:conv-it-2"))
	readFrame(t, connA) // snapshot; socket A fully registered
	connB := dialWS(t, websocketURL(t, baseURL, receiver.accessToken, "dm:conv-it-2"))
	readFrame(t, connB)

	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/conversations/conv-it-2/messages", map[string]any{
		"recipient_id": receiver.userID,
		"content":      "fan out",
	}, map[string]string{"Authorization": "Bearer " + sender.accessToken})
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("send failed: status=%d", resp.StatusCode)
	}

	for name, conn := range map[string]*websocket.Conn{"socket a": connA, "socket b": connB} {
		frame := waitForFrame(t, conn, "dm")
		if frame.Content != "fan out" {
			t.Fatalf("%s: unexpected frame %+v", name, frame)
		}
	}
}

func TestWebSocketRoomBroadcast(t *testing.T) {
	baseURL, client, closeFn := newChatTestServer(t)
	defer closeFn()

	sender := registerAndLogin(t, client, baseURL, "sender@example.com")
	member := registerAndLogin(t, client, baseURL, "member@example.com")

	conn := dialWS(t, websocketURL(t, baseURL, member.accessToken, "room:lobby"))
	readFrame(t, conn) // snapshot

	resp, _ := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/rooms/lobby/messages", map[string]string{
		"content": "welcome all",
	}, map[string]string{"Authorization": "Bearer " + sender.accessToken})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("room send failed: status=%d", resp.StatusCode)
	}

	frame := waitForFrame(t, conn, "message")
	if frame.Text != "welcome all" || frame.From != fmt.Sprint(sender.userID) {
		t.Fatalf("unexpected room frame: %+v", frame)
	}
}

// Multi-device presence: the user stays online until the last socket is
// gone, and each 0/1 edge produces exactly one presence event.
func TestWebSocketMultiDevicePresence(t *testing.T) {
	baseURL, client, closeFn := newChatTestServer(t)
	defer closeFn()

	watcherAcc := registerAndLogin(t, client, baseURL, "watcher@example.com")
	userAcc := registerAndLogin(t, client, baseURL, "roamer@example.com")

	watcher := dialWS(t, websocketURL(t, baseURL, watcherAcc.accessToken))
	readFrame(t, watcher) // snapshot; watcher fully registered

	deviceA := dialWS(t, websocketURL(t, baseURL, userAcc.accessToken))
	readFrame(t, deviceA)
	online := waitForFrame(t, watcher, "presence")
	if !containsUser(online.Users, userAcc.userID) {
		t.Fatalf("expected user %d online, got %v", userAcc.userID, online.Users)
	}

	deviceB := dialWS(t, websocketURL(t, baseURL, userAcc.accessToken))
	readFrame(t, deviceB)
	// Second device is not an edge; the next event the watcher sees must be
	// the offline transition after both devices leave.

	_ = deviceA.Close()
	_ = deviceB.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame := waitForFrame(t, watcher, "presence")
		if !containsUser(frame.Users, userAcc.userID) {
			return // offline edge observed
		}
	}
	t.Fatalf("user %d never went offline", userAcc.userID)
}

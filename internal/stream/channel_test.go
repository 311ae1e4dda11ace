package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verte-zerg/proctor/internal/model"
)

// echoDetector upgrades the request and answers every frame with the
// scripted responses in order, then keeps the connection open.
func echoDetector(t *testing.T, responses []string) http.HandlerFunc {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer func() {
			_ = conn.Close()
		}()
		for _, resp := range responses {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
		// Drain until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func recvResult(t *testing.T, ch Channel) Result {
	t.Helper()
	select {
	case res, ok := <-ch.Results():
		if !ok {
			t.Fatal("results channel closed unexpectedly")
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	return Result{}
}

func TestChannelRoundTrip(t *testing.T) {
	stats := `{"alerts":[{"type":"Looking Away","details":"gaze off-screen","timestamp":1700000000000}],` +
		`"stats":{"total_frames_captured":10,"looking_away_frames":2,"mobile_detected_frames":0,` +
		`"multiple_people_frames":0,"no_face_frames":1}}`
	server := httptest.NewServer(echoDetector(t, []string{stats}))
	defer server.Close()

	ch, err := WSDialer{BaseURL: wsURL(server)}.Dial(context.Background(), "session_test")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() {
		_ = ch.Close()
	}()

	if err := ch.Send(OutboundFrame{Frame: "aGVsbG8=", Timestamp: time.Now().UnixMilli()}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	res := recvResult(t, ch)
	if res.Err != nil {
		t.Fatalf("unexpected result error: %v", res.Err)
	}
	if res.Stats == nil || res.Stats.TotalFrames != 10 || res.Stats.LookingAway != 2 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Type != "Looking Away" {
		t.Fatalf("unexpected alerts: %+v", res.Alerts)
	}
}

func TestChannelErrorMessageKeepsConnection(t *testing.T) {
	responses := []string{
		`{"error":"Frame processing error"}`,
		`{"alerts":[],"stats":{"total_frames_captured":3}}`,
	}
	server := httptest.NewServer(echoDetector(t, responses))
	defer server.Close()

	ch, err := WSDialer{BaseURL: wsURL(server)}.Dial(context.Background(), "session_test")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() {
		_ = ch.Close()
	}()

	if err := ch.Send(OutboundFrame{Frame: "eA=="}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	res := recvResult(t, ch)
	if res.Err == nil {
		t.Fatal("expected error result for error message")
	}

	// The channel survives the error message.
	if err := ch.Send(OutboundFrame{Frame: "eQ=="}); err != nil {
		t.Fatalf("send after error failed: %v", err)
	}
	res = recvResult(t, ch)
	if res.Err != nil {
		t.Fatalf("unexpected error after recovery: %v", res.Err)
	}
	if res.Stats == nil || res.Stats.TotalFrames != 3 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
}

func TestChannelRemoteCloseEndsResults(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer server.Close()

	ch, err := WSDialer{BaseURL: wsURL(server)}.Dial(context.Background(), "session_test")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	select {
	case _, ok := <-ch.Results():
		if ok {
			t.Fatal("expected closed results channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
	if err := ch.Close(); err != nil {
		// Close after remote teardown may report the dead socket.
		_ = err
	}
	if err := ch.Send(OutboundFrame{Frame: "eA=="}); err == nil {
		t.Fatal("expected send on closed channel to fail")
	}
}

func TestCloseWithUnconsumedResults(t *testing.T) {
	// The server pushes results the client never drains, so the reader
	// ends up blocked on a full buffer. Close must still shut it down and
	// close the results channel rather than leak the goroutine.
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			_ = conn.Close()
		}()
		for i := 0; i < 3; i++ {
			msg := []byte(`{"alerts":[],"stats":{"total_frames_captured":` + strconv.Itoa(i+1) + `}}`)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		// Hold the connection open so only Close can end the reader.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}))
	defer server.Close()

	ch, err := WSDialer{BaseURL: wsURL(server)}.Dial(context.Background(), "session_test")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	// Give the reader time to buffer one result and block on the next.
	time.Sleep(100 * time.Millisecond)
	if err := ch.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch.Results():
			if !ok {
				return
			}
			// A result buffered before Close may still drain out first.
		case <-deadline:
			t.Fatal("results channel not closed after Close")
		}
	}
}

func TestChannelSendsSessionIDPath(t *testing.T) {
	gotPath := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer server.Close()

	ch, err := WSDialer{BaseURL: wsURL(server) + "/"}.Dial(context.Background(), "session_42")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() {
		_ = ch.Close()
	}()
	if path := <-gotPath; path != "/ws/session_42" {
		t.Fatalf("unexpected path: %s", path)
	}
}

func TestOutboundFrameWireFormat(t *testing.T) {
	data, err := json.Marshal(OutboundFrame{Frame: "YWJj", Timestamp: 1700000000000})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if raw["frame"] != "YWJj" {
		t.Fatalf("unexpected frame field: %v", raw["frame"])
	}
	if _, ok := raw["timestamp"].(float64); !ok {
		t.Fatalf("timestamp is not a JSON number: %v", raw["timestamp"])
	}
	var c model.Counters
	statsJSON := `{"total_frames_captured":5,"looking_away_frames":1,"mobile_detected_frames":2,"multiple_people_frames":3,"no_face_frames":4}`
	if err := json.Unmarshal([]byte(statsJSON), &c); err != nil {
		t.Fatalf("stats unmarshal failed: %v", err)
	}
	if c.TotalFrames != 5 || c.LookingAway != 1 || c.MobileDetected != 2 || c.MultiplePeople != 3 || c.NoFace != 4 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

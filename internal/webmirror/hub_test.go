package webmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/wire"
)

func TestTokenAuthentication(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid token", "secret-123", http.StatusSwitchingProtocols},
		{"invalid token", "wrong", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New("secret-123", nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go h.Run(ctx)

			server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
			defer server.Close()

			url := fmt.Sprintf("ws://%s/mirror", server.URL[len("http://"):])
			if tt.token != "" {
				url = fmt.Sprintf("%s?token=%s", url, tt.token)
			}

			dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
			conn, resp, err := websocket.Dial(dialCtx, url, nil)
			dialCancel()

			if resp != nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusSwitchingProtocols {
				if err != nil {
					t.Fatalf("expected successful dial, got %v", err)
				}
				conn.Close(websocket.StatusNormalClosure, "")
			} else if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
		})
	}
}

func TestBroadcastRespectsSubscription(t *testing.T) {
	h := New("", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer server.Close()
	url := "ws://" + server.URL[len("http://"):] + "/mirror"

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	dialCancel()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	wantSession := id.New()
	sub, _ := json.Marshal(controlMessage{Type: "subscribe", SessionID: wantSession.String()})
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Give the registration+subscribe a moment to land before publishing.
	time.Sleep(50 * time.Millisecond)

	otherSession := id.New()
	env, _ := wire.EncodeBody(wire.KindSessionDestroyed, 0, wire.SessionDestroyedBroadcast{SessionID: otherSession.String()})
	h.Publish(otherSession, env)

	wantEnv, _ := wire.EncodeBody(wire.KindSessionDestroyed, 0, wire.SessionDestroyedBroadcast{SessionID: wantSession.String()})
	h.Publish(wantSession, wantEnv)

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.SessionID != wantSession.String() {
		t.Fatalf("evt.SessionID = %q, want %q (subscription filter leaked the other session's event)", evt.SessionID, wantSession.String())
	}
}

func TestPublishDropsUnprojectableKinds(t *testing.T) {
	h := New("", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	env, _ := wire.EncodeBody(wire.KindOK, 1, wire.OKResp{})
	h.Publish(id.New(), env)

	select {
	case <-h.broadcast:
		t.Fatal("expected KindOK to be dropped, not queued for broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

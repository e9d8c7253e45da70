package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
)

// startFakeOBS runs a minimal obs-websocket v5 peer: Hello/Identify, then
// answers scene requests.
func startFakeOBS(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(map[string]interface{}{
			"op": opHello,
			"d":  map[string]interface{}{"obsWebSocketVersion": "5.0.0", "rpcVersion": 1},
		}); err != nil {
			return
		}
		var identify message
		if err := conn.ReadJSON(&identify); err != nil || identify.Op != opIdentify {
			return
		}
		if err := conn.WriteJSON(map[string]interface{}{
			"op": opIdentified,
			"d":  map[string]interface{}{"negotiatedRpcVersion": 1},
		}); err != nil {
			return
		}

		for {
			var req message
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Op != opRequest {
				continue
			}
			var body struct {
				RequestType string `json:"requestType"`
				RequestID   string `json:"requestId"`
			}
			if err := json.Unmarshal(req.D, &body); err != nil {
				continue
			}
			d := map[string]interface{}{
				"requestType":   body.RequestType,
				"requestId":     body.RequestID,
				"requestStatus": map[string]interface{}{"result": true, "code": 100},
			}
			switch body.RequestType {
			case "GetCurrentProgramScene":
				d["responseData"] = map[string]interface{}{"currentProgramSceneName": "主场景"}
			case "GetSceneList":
				d["responseData"] = map[string]interface{}{
					"currentProgramSceneName": "主场景",
					"scenes": []map[string]interface{}{
						{"sceneName": "主场景"},
						{"sceneName": "待机"},
					},
				}
			}
			if err := conn.WriteJSON(map[string]interface{}{"op": opRequestResponse, "d": d}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectHandshakeReturns(t *testing.T) {
	c := NewClient(config.OBSConfig{URL: startFakeOBS(t)})
	defer c.Disconnect()

	done := make(chan interfaces.Result, 1)
	go func() { done <- c.Connect(context.Background()) }()

	select {
	case res := <-done:
		if !res.Success {
			t.Fatalf("connect failed: %s", res.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return")
	}

	if !c.Connected() {
		t.Fatal("client should report connected")
	}
	if got := c.CurrentScene(); got != "主场景" {
		t.Fatalf("current scene = %q, want 主场景", got)
	}
}

func TestConcurrentRequestsShareConnection(t *testing.T) {
	c := NewClient(config.OBSConfig{URL: startFakeOBS(t)})
	defer c.Disconnect()

	if res := c.Connect(context.Background()); !res.Success {
		t.Fatalf("connect failed: %s", res.Message)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.Scenes(context.Background()); err != nil {
				errs <- err
			}
			if _, err := c.fetchCurrentScene(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent request failed: %v", err)
	}
}

func TestAuthToken(t *testing.T) {
	password := "supersecret"
	salt := "PZVbYpvAnZut2SS6JNJytDm9"
	challenge := "ztTBnnuqrqaKDzRM3xcVdbYm"

	secretSum := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretSum[:])
	wantSum := sha256.Sum256([]byte(secret + challenge))
	want := base64.StdEncoding.EncodeToString(wantSum[:])

	if got := authToken(password, salt, challenge); got != want {
		t.Fatalf("authToken = %q, want %q", got, want)
	}
}

func TestAuthTokenDiffersPerChallenge(t *testing.T) {
	a := authToken("pw", "salt", "challenge-a")
	b := authToken("pw", "salt", "challenge-b")
	if a == b {
		t.Fatal("tokens for different challenges must differ")
	}
}

func TestUpdateConfigMergesFields(t *testing.T) {
	c := NewClient(config.OBSConfig{URL: "ws://127.0.0.1:4455", Password: "initial"})
	ctx := context.Background()

	url := "ws://192.168.1.20:4455"
	res := c.UpdateConfig(ctx, &url, nil)
	if !res.Success {
		t.Fatalf("update failed: %s", res.Message)
	}
	cfg := c.Config()
	if cfg.URL != url {
		t.Fatalf("url = %q, want %q", cfg.URL, url)
	}
	if cfg.Password != "initial" {
		t.Fatalf("password = %q, want unchanged", cfg.Password)
	}

	password := "changed"
	c.UpdateConfig(ctx, nil, &password)
	cfg = c.Config()
	if cfg.URL != url || cfg.Password != "changed" {
		t.Fatalf("cfg = %+v", cfg)
	}

	empty := ""
	c.UpdateConfig(ctx, &empty, nil)
	if got := c.Config().URL; got != url {
		t.Fatalf("empty url must not overwrite, got %q", got)
	}
}

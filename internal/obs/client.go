package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const (
	connectTimeout = 10 * time.Second
	callTimeout    = 15 * time.Second

	screenshotWidth   = 854
	screenshotHeight  = 480
	screenshotQuality = 80
)

// Client talks to OBS Studio over the obs-websocket v5 protocol to capture
// screenshots of the live program scene.
type Client struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	cfg       config.OBSConfig
	connected atomic.Bool

	// gorilla/websocket allows one concurrent writer per connection.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan requestResponse

	currentScene string
	sceneMu      sync.RWMutex
}

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type requestResponse struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

func NewClient(cfg config.OBSConfig) *Client {
	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan requestResponse),
	}
}

// Connected reports whether the websocket session is identified.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// CurrentScene returns the last observed program scene name.
func (c *Client) CurrentScene() string {
	c.sceneMu.RLock()
	defer c.sceneMu.RUnlock()
	return c.currentScene
}

// Connect dials OBS and performs the Hello/Identify handshake, including
// challenge authentication when OBS has a password set.
func (c *Client) Connect(ctx context.Context) interfaces.Result {
	c.mu.Lock()
	res := c.connectLocked(ctx)
	c.mu.Unlock()

	// The scene fetch goes through call(), which takes c.mu to read the
	// connection, so it must run after the handshake releases the lock.
	if res.Success {
		if scene, err := c.fetchCurrentScene(ctx); err == nil {
			c.setCurrentScene(scene)
		}
	}
	return res
}

func (c *Client) connectLocked(ctx context.Context) interfaces.Result {
	if c.connected.Load() {
		return interfaces.OkMessage("已连接到OBS")
	}

	log.Printf("[OBS] Connecting to %s", c.cfg.URL)

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		log.Printf("[OBS] Connect failed: %v", err)
		return interfaces.Fail("连接失败: " + err.Error())
	}

	hello, err := c.readHello(conn)
	if err != nil {
		conn.Close()
		return interfaces.Fail("连接失败: " + err.Error())
	}

	identify := map[string]interface{}{"rpcVersion": 1}
	if hello.Authentication != nil {
		identify["authentication"] = authToken(c.cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := c.writeMessage(conn, opIdentify, identify); err != nil {
		conn.Close()
		return interfaces.Fail("连接失败: " + err.Error())
	}

	if err := c.readIdentified(conn); err != nil {
		conn.Close()
		return interfaces.Fail("连接失败: " + err.Error())
	}

	c.conn = conn
	c.connected.Store(true)
	go c.readLoop(conn)

	log.Printf("[OBS] Connected (obs-websocket v%s)", hello.ObsWebSocketVersion)

	return interfaces.Result{
		Success: true,
		Message: fmt.Sprintf("已连接到OBS WebSocket v%s", hello.ObsWebSocketVersion),
	}
}

// Disconnect closes the session. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.connected.Swap(false) {
		log.Println("[OBS] Disconnected")
	}
}

// UpdateConfig merges connection settings field by field; unspecified
// fields keep their previous value so a stored password is never silently
// dropped. A change while connected triggers a reconnect.
func (c *Client) UpdateConfig(ctx context.Context, url, password *string) interfaces.Result {
	c.mu.Lock()
	oldURL, oldPassword := c.cfg.URL, c.cfg.Password

	if url != nil && *url != "" {
		c.cfg.URL = *url
	}
	if password != nil {
		if *password == "" && c.cfg.Password != "" {
			log.Println("[OBS] Warning: clearing stored password; make sure OBS auth is disabled too")
		}
		c.cfg.Password = *password
	}

	changed := c.cfg.URL != oldURL || c.cfg.Password != oldPassword
	wasConnected := c.connected.Load()
	c.mu.Unlock()

	if changed && wasConnected {
		log.Println("[OBS] Config changed, reconnecting")
		c.Disconnect()
		return c.Connect(ctx)
	}
	return interfaces.OkMessage("配置已更新")
}

// Config returns the current connection settings.
func (c *Client) Config() config.OBSConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// CaptureScreenshot grabs a base64 JPEG of the current program scene.
func (c *Client) CaptureScreenshot(ctx context.Context) (string, error) {
	if !c.connected.Load() {
		return "", interfaces.ErrNotConnected
	}

	scene, err := c.fetchCurrentScene(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get current scene: %w", err)
	}
	c.setCurrentScene(scene)

	data, err := c.call(ctx, "GetSourceScreenshot", map[string]interface{}{
		"sourceName":              scene,
		"imageFormat":             "jpg",
		"imageWidth":              screenshotWidth,
		"imageHeight":             screenshotHeight,
		"imageCompressionQuality": screenshotQuality,
	})
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", err)
	}

	var result struct {
		ImageData string `json:"imageData"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}

	// strip the data-url prefix
	if idx := strings.Index(result.ImageData, "base64,"); idx >= 0 {
		return result.ImageData[idx+len("base64,"):], nil
	}
	return result.ImageData, nil
}

// Scenes lists scene names plus the current program scene.
func (c *Client) Scenes(ctx context.Context) ([]string, string, error) {
	if !c.connected.Load() {
		return nil, "", interfaces.ErrNotConnected
	}

	data, err := c.call(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, "", err
	}

	var result struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
		Scenes                  []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(result.Scenes))
	for _, s := range result.Scenes {
		names = append(names, s.SceneName)
	}
	c.setCurrentScene(result.CurrentProgramSceneName)
	return names, result.CurrentProgramSceneName, nil
}

// SwitchScene changes the program scene.
func (c *Client) SwitchScene(ctx context.Context, sceneName string) error {
	if !c.connected.Load() {
		return interfaces.ErrNotConnected
	}
	_, err := c.call(ctx, "SetCurrentProgramScene", map[string]interface{}{
		"sceneName": sceneName,
	})
	if err == nil {
		c.setCurrentScene(sceneName)
	}
	return err
}

func (c *Client) fetchCurrentScene(ctx context.Context) (string, error) {
	data, err := c.call(ctx, "GetCurrentProgramScene", nil)
	if err != nil {
		return "", err
	}
	var result struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}
	return result.CurrentProgramSceneName, nil
}

func (c *Client) setCurrentScene(scene string) {
	c.sceneMu.Lock()
	c.currentScene = scene
	c.sceneMu.Unlock()
}

// call sends one request and waits for its matching response.
func (c *Client) call(ctx context.Context, requestType string, requestData map[string]interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, interfaces.ErrNotConnected
	}

	requestID := uuid.NewString()
	ch := make(chan requestResponse, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	payload := map[string]interface{}{
		"requestType": requestType,
		"requestId":   requestID,
	}
	if requestData != nil {
		payload["requestData"] = requestData
	}
	if err := c.writeMessage(conn, opRequest, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("request %s timed out", requestType)
	case resp := <-ch:
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed: %s (code %d)", requestType, resp.RequestStatus.Comment, resp.RequestStatus.Code)
		}
		return resp.ResponseData, nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connected.Store(false)
		log.Println("[OBS] Connection closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Op != opRequestResponse {
			continue
		}

		var resp requestResponse
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RequestID]
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) readHello(conn *websocket.Conn) (*helloData, error) {
	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Op != opHello {
		return nil, fmt.Errorf("expected hello, got op %d", msg.Op)
	}
	var hello helloData
	if err := json.Unmarshal(msg.D, &hello); err != nil {
		return nil, err
	}
	return &hello, nil
}

func (c *Client) readIdentified(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Op != opIdentified {
		return fmt.Errorf("identify rejected (op %d), check the OBS websocket password", msg.Op)
	}
	return nil
}

func (c *Client) writeMessage(conn *websocket.Conn, op int, d interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(map[string]interface{}{"op": op, "d": d})
}

// authToken computes the obs-websocket v5 challenge response:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authToken(password, salt, challenge string) string {
	secretSum := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretSum[:])
	authSum := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(authSum[:])
}

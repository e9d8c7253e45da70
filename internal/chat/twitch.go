package chat

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"ai-gamer/server/internal/interfaces"
)

const (
	twitchWSURL    = "wss://irc-ws.chat.twitch.tv:443"
	maxMessages    = 100
	connectTimeout = 10 * time.Second
)

// TwitchService receives viewer chat from Twitch IRC over websocket and
// keeps a ring of recent messages for AI replies.
type TwitchService struct {
	publisher interfaces.EventPublisher

	mu        sync.Mutex
	conn      *websocket.Conn
	channel   string
	username  string
	connected atomic.Bool

	// gorilla/websocket allows one concurrent writer per connection;
	// Say and the PONG reply share it.
	writeMu sync.Mutex

	msgMu    sync.RWMutex
	messages []interfaces.ChatMessage
}

// Status describes the chat connection for state snapshots.
type Status struct {
	Connected    bool   `json:"connected"`
	Channel      string `json:"channel,omitempty"`
	MessageCount int    `json:"messageCount"`
}

func NewTwitchService(publisher interfaces.EventPublisher) *TwitchService {
	return &TwitchService{publisher: publisher}
}

// Connect joins a channel. An anonymous justinfan login is used when no
// credentials are supplied; that allows reading chat but not sending.
func (s *TwitchService) Connect(ctx context.Context, channel, username, token string) interfaces.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() && s.channel == channel {
		return interfaces.OkMessage("已连接到该频道")
	}
	if s.connected.Load() {
		s.disconnectLocked()
	}

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, twitchWSURL, nil)
	if err != nil {
		log.Printf("[Twitch] Connect failed: %v", err)
		return interfaces.Fail("连接失败: " + err.Error())
	}

	nick := username
	pass := token
	if nick == "" || pass == "" {
		nick = fmt.Sprintf("justinfan%d", 10000+rand.Intn(80000))
		pass = "SCHMOOPIIE"
	}

	lines := []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS " + pass,
		"NICK " + nick,
		"JOIN #" + channel,
	}
	for _, line := range lines {
		if err := s.writeLine(conn, line); err != nil {
			conn.Close()
			return interfaces.Fail("连接失败: " + err.Error())
		}
	}

	s.conn = conn
	s.channel = channel
	s.username = nick
	s.connected.Store(true)
	s.msgMu.Lock()
	s.messages = nil
	s.msgMu.Unlock()

	go s.readLoop(conn)

	log.Printf("[Twitch] Connected to channel: %s", channel)
	s.publish(Status{Connected: true, Channel: channel})

	return interfaces.Result{
		Success: true,
		Message: "已连接到频道: " + channel,
		Data:    map[string]string{"channel": channel},
	}
}

// Disconnect leaves the channel. Idempotent.
func (s *TwitchService) Disconnect() interfaces.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
	return interfaces.OkMessage("已断开连接")
}

func (s *TwitchService) disconnectLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.connected.Swap(false) {
		log.Println("[Twitch] Disconnected")
	}
	s.channel = ""
	s.msgMu.Lock()
	s.messages = nil
	s.msgMu.Unlock()
	s.publish(Status{Connected: false})
}

func (s *TwitchService) GetStatus() Status {
	s.msgMu.RLock()
	count := len(s.messages)
	s.msgMu.RUnlock()

	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	return Status{
		Connected:    s.connected.Load(),
		Channel:      channel,
		MessageCount: count,
	}
}

// RecentMessages returns up to limit messages, newest first.
func (s *TwitchService) RecentMessages(limit int) []interfaces.ChatMessage {
	if limit <= 0 || limit > maxMessages {
		limit = 50
	}
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	if limit > len(s.messages) {
		limit = len(s.messages)
	}
	out := make([]interfaces.ChatMessage, limit)
	copy(out, s.messages[:limit])
	return out
}

// MessageByID looks up a recent message.
func (s *TwitchService) MessageByID(id string) (interfaces.ChatMessage, bool) {
	s.msgMu.RLock()
	defer s.msgMu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return interfaces.ChatMessage{}, false
}

// ClearMessages empties the recent-message ring.
func (s *TwitchService) ClearMessages() {
	s.msgMu.Lock()
	s.messages = nil
	s.msgMu.Unlock()
}

// Say sends a message to the joined channel; requires authenticated login.
func (s *TwitchService) Say(text string) interfaces.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() || s.channel == "" {
		return interfaces.Fail("未连接到频道")
	}
	line := fmt.Sprintf("PRIVMSG #%s :%s", s.channel, text)
	if err := s.writeLine(s.conn, line); err != nil {
		return interfaces.Fail(err.Error())
	}
	return interfaces.OkMessage("消息已发送")
}

func (s *TwitchService) writeLine(conn *websocket.Conn, line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (s *TwitchService) readLoop(conn *websocket.Conn) {
	defer func() {
		s.connected.Store(false)
		s.publish(Status{Connected: false})
		log.Println("[Twitch] Connection closed")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		for _, line := range splitIRCLines(string(data)) {
			s.handleLine(conn, line)
		}
	}
}

func (s *TwitchService) handleLine(conn *websocket.Conn, line string) {
	msg, ok := parseLine(line)
	if !ok {
		return
	}

	switch msg.Command {
	case "PING":
		s.writeLine(conn, "PONG :tmi.twitch.tv")
	case "PRIVMSG":
		chatMsg := msg.toChatMessage()
		// Ignore our own messages.
		s.mu.Lock()
		self := chatMsg.Username == s.username
		s.mu.Unlock()
		if self {
			return
		}

		s.msgMu.Lock()
		s.messages = append([]interfaces.ChatMessage{chatMsg}, s.messages...)
		if len(s.messages) > maxMessages {
			s.messages = s.messages[:maxMessages]
		}
		s.msgMu.Unlock()

		if s.publisher != nil {
			s.publisher.Publish(interfaces.Event{Kind: interfaces.EventChatMessage, Payload: chatMsg})
		}
	}
}

func (s *TwitchService) publish(status Status) {
	if s.publisher != nil {
		s.publisher.Publish(interfaces.Event{Kind: interfaces.EventChatStatus, Payload: status})
	}
}

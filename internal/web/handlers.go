package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"ai-gamer/server/internal/ai"
	"ai-gamer/server/internal/chat"
	"ai-gamer/server/internal/commentary"
	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
	"ai-gamer/server/internal/memory"
	"ai-gamer/server/internal/models"
	"ai-gamer/server/internal/obs"
	"ai-gamer/server/internal/storage"
	"ai-gamer/server/internal/tts"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Server exposes the REST API and the WebSocket event stream.
type Server struct {
	cfg    *config.Config
	hub    *EventHub
	orch   *commentary.Orchestrator
	mem    *memory.Engine
	obs    *obs.Client
	tts    *tts.Client
	twitch *chat.TwitchService
	ai     *ai.Client
	store  *storage.MySQLStore
}

func NewServer(cfg *config.Config, hub *EventHub, orch *commentary.Orchestrator, mem *memory.Engine,
	obsClient *obs.Client, ttsClient *tts.Client, twitch *chat.TwitchService, aiClient *ai.Client,
	store *storage.MySQLStore) *Server {

	s := &Server{
		cfg:    cfg,
		hub:    hub,
		orch:   orch,
		mem:    mem,
		obs:    obsClient,
		tts:    ttsClient,
		twitch: twitch,
		ai:     aiClient,
		store:  store,
	}
	hub.SetCommandHandler(s.handleCommand)
	hub.SetSnapshotFunc(func() interfaces.Event {
		return interfaces.Event{Kind: interfaces.EventStateSync, Payload: s.orch.State()}
	})
	return s
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("REQUEST: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})
	r.Use(corsMiddleware)

	r.Get("/health", s.HealthCheck)
	r.Get("/ws", s.EventStream)

	// Synthesized audio files
	audioServer := http.StripPrefix("/audio/", http.FileServer(http.Dir(s.tts.AudioDir())))
	r.Mount("/audio", audioServer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.GetStatus)

		r.Route("/obs", func(r chi.Router) {
			r.Post("/connect", s.ConnectOBS)
			r.Post("/disconnect", s.DisconnectOBS)
			r.Get("/scenes", s.GetScenes)
			r.Post("/scene", s.SwitchScene)
			r.Post("/screenshot", s.TakeScreenshot)
		})

		r.Get("/settings", s.GetSettings)
		r.Put("/settings", s.UpdateSettings)

		r.Route("/commentary", func(r chi.Router) {
			r.Post("/start", s.StartCommentary)
			r.Post("/stop", s.StopCommentary)
			r.Post("/trigger", s.TriggerCommentary)
			r.Post("/text", s.TextCommentary)
			r.Post("/speak", s.Speak)
			r.Post("/mode", s.SetMode)
			r.Post("/interval", s.SetInterval)
		})

		r.Route("/tts", func(r chi.Router) {
			r.Get("/voices", s.GetVoices)
			r.Post("/preview", s.PreviewVoice)
		})

		r.Get("/stats/tokens", s.GetTokenStats)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/", s.ListMemories)
			r.Post("/", s.CreateMemory)
			r.Post("/active", s.SetActiveMemory)
			r.Get("/active/list", s.GetActiveMemory)
			r.Post("/generate", s.GenerateMemory)
			r.Post("/search", s.SearchMemories)
			r.Post("/session/new", s.NewSession)
			r.Get("/session/current", s.CurrentSession)
			r.Get("/{id}", s.GetMemory)
			r.Put("/{id}", s.UpdateMemory)
			r.Delete("/{id}", s.DeleteMemory)
		})

		r.Route("/twitch", func(r chi.Router) {
			r.Post("/connect", s.ConnectTwitch)
			r.Post("/disconnect", s.DisconnectTwitch)
			r.Get("/status", s.TwitchStatus)
			r.Get("/messages", s.TwitchMessages)
			r.Post("/messages/clear", s.ClearTwitchMessages)
			r.Post("/reply", s.ReplyToChat)
			r.Post("/say", s.SayToChat)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, res interfaces.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, interfaces.Result{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, interfaces.Result{Success: false, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "无效的请求内容")
		return false
	}
	return true
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "ai-gamer",
	})
}

// EventStream upgrades the connection and joins the event hub.
func (s *Server) EventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  s.hub,
	}
	s.hub.register <- client
	go client.readPump()
}

// GetStatus reports every subsystem in one response.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	voice, rate := s.tts.Config()
	obsCfg := s.obs.Config()

	var memStats interface{}
	if stats, err := s.mem.Stats(); err == nil {
		memStats = stats
	}

	writeData(w, map[string]interface{}{
		"obs": map[string]interface{}{
			"connected":    s.obs.Connected(),
			"url":          obsCfg.URL,
			"currentScene": s.obs.CurrentScene(),
		},
		"ai": map[string]interface{}{
			"initialized": s.ai.Initialized(),
			"model":       s.ai.Model(),
		},
		"tts": map[string]string{
			"voice": voice,
			"rate":  rate,
		},
		"commentary": s.orch.State(),
		"twitch":     s.twitch.GetStatus(),
		"memory":     memStats,
		"clients":    s.hub.GetClientCount(),
	})
}

// ==================== OBS ====================

func (s *Server) ConnectOBS(w http.ResponseWriter, r *http.Request) {
	res := s.obs.Connect(r.Context())
	s.hub.Publish(interfaces.Event{Kind: interfaces.EventOBSStatus, Payload: map[string]bool{"connected": s.obs.Connected()}})
	writeResult(w, res)
}

func (s *Server) DisconnectOBS(w http.ResponseWriter, r *http.Request) {
	s.obs.Disconnect()
	s.hub.Publish(interfaces.Event{Kind: interfaces.EventOBSStatus, Payload: map[string]bool{"connected": false}})
	writeJSON(w, http.StatusOK, interfaces.OkMessage("已断开OBS连接"))
}

func (s *Server) GetScenes(w http.ResponseWriter, r *http.Request) {
	scenes, current, err := s.obs.Scenes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]interface{}{"scenes": scenes, "current": current})
}

func (s *Server) SwitchScene(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SceneName string `json:"sceneName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SceneName == "" {
		writeError(w, http.StatusBadRequest, "缺少场景名称")
		return
	}
	if err := s.obs.SwitchScene(r.Context(), req.SceneName); err != nil {
		writeError(w, http.StatusInternalServerError, "切换场景失败: "+err.Error())
		return
	}
	writeData(w, map[string]interface{}{"scene": req.SceneName})
}

func (s *Server) TakeScreenshot(w http.ResponseWriter, r *http.Request) {
	image, err := s.obs.CaptureScreenshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "截图失败: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"image":   "data:image/jpeg;base64," + image,
	})
}

// ==================== Settings ====================

func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.orch.Settings())
}

func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update commentary.SettingsUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	writeResult(w, s.orch.UpdateSettings(r.Context(), update))
}

// ==================== Commentary ====================

func (s *Server) StartCommentary(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.orch.Start(r.Context()))
}

func (s *Server) StopCommentary(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.orch.Stop())
}

func (s *Server) TriggerCommentary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hint string `json:"hint"`
	}
	if r.ContentLength > 0 {
		json.NewDecoder(r.Body).Decode(&req)
	}
	writeResult(w, s.orch.PerformCommentary(r.Context(), req.Hint))
}

func (s *Server) TextCommentary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "缺少文字内容")
		return
	}
	writeResult(w, s.orch.CommentOnText(r.Context(), req.Text))
}

func (s *Server) Speak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "缺少文字内容")
		return
	}
	writeResult(w, s.orch.SpeakText(r.Context(), req.Text))
}

func (s *Server) SetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeResult(w, s.orch.SetMode(req.Mode))
}

func (s *Server) SetInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	writeResult(w, s.orch.SetAutoInterval(req.Seconds))
}

// ==================== TTS ====================

func (s *Server) GetVoices(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.tts.Voices(r.Context()))
}

func (s *Server) PreviewVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
		Rate  string `json:"rate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		req.Text = "你好,这是语音预览。"
	}
	res := s.tts.Synthesize(r.Context(), req.Text, req.Voice, req.Rate)
	if !res.Success {
		writeError(w, http.StatusInternalServerError, res.Message)
		return
	}
	writeData(w, res)
}

// ==================== Stats ====================

func (s *Server) GetTokenStats(w http.ResponseWriter, r *http.Request) {
	today, err := s.store.TodayTokenUsage()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	week, _ := s.store.WeekTokenUsage()
	month, _ := s.store.MonthTokenUsage()
	byType, _ := s.store.TokenUsageByType()
	trend, _ := s.store.DailyTokenTrend(30)

	writeData(w, map[string]interface{}{
		"today":  today,
		"week":   week,
		"month":  month,
		"byType": byType,
		"trend":  trend,
	})
}

// ==================== Memories ====================

func (s *Server) ListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		memories []*models.Memory
		err      error
	)
	switch {
	case q.Get("search") != "":
		memories, err = s.mem.Search(r.Context(), q.Get("search"), 0)
	case q.Get("type") != "":
		memories, err = s.mem.ByType(q.Get("type"))
	case q.Get("game") != "":
		memories, err = s.mem.ByGame(q.Get("game"))
	default:
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		memories, err = s.mem.List(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, memories)
}

func memoryID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

func (s *Server) GetMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := memoryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "无效的记忆ID")
		return
	}
	m, err := s.mem.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "记忆不存在")
		return
	}
	writeData(w, m)
}

type memoryRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	GameName string   `json:"game_name"`
	Tags     []string `json:"tags"`
}

func (s *Server) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "标题和内容不能为空")
		return
	}
	m, err := s.mem.CreateManual(req.Title, req.Content, req.GameName, req.Tags)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, m)
}

func (s *Server) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := memoryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "无效的记忆ID")
		return
	}
	var req struct {
		Title    *string  `json:"title"`
		Content  *string  `json:"content"`
		GameName *string  `json:"game_name"`
		Tags     []string `json:"tags"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.mem.Update(id, memory.MemoryUpdate{
		Title:    req.Title,
		Content:  req.Content,
		GameName: req.GameName,
		Tags:     req.Tags,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, m)
}

func (s *Server) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := memoryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "无效的记忆ID")
		return
	}
	if err := s.mem.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, interfaces.OkMessage("记忆已删除"))
}

func (s *Server) SetActiveMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemoryIDs []uint `json:"memoryIds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := s.mem.SetActive(req.MemoryIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, m)
}

func (s *Server) GetActiveMemory(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.mem.Active())
}

func (s *Server) GenerateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string   `json:"title"`
		GameName     string   `json:"game_name"`
		Tags         []string `json:"tags"`
		ClearSession bool     `json:"clearSession"`
	}
	if r.ContentLength > 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	m, err := s.mem.GenerateFromSession(r.Context(), memory.GenerateOptions{
		Title:        req.Title,
		GameName:     req.GameName,
		Tags:         req.Tags,
		ClearSession: req.ClearSession,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, m)
}

func (s *Server) SearchMemories(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "缺少检索内容")
		return
	}
	memories, err := s.mem.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, memories)
}

func (s *Server) NewSession(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.mem.NewSession())
}

func (s *Server) CurrentSession(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.mem.Session())
}

// ==================== Twitch ====================

func (s *Server) ConnectTwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel  string `json:"channel"`
		Username string `json:"username"`
		Token    string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "请提供频道名")
		return
	}
	writeResult(w, s.twitch.Connect(r.Context(), req.Channel, req.Username, req.Token))
}

func (s *Server) DisconnectTwitch(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.twitch.Disconnect())
}

func (s *Server) TwitchStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.twitch.GetStatus())
}

func (s *Server) TwitchMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	writeData(w, s.twitch.RecentMessages(limit))
}

func (s *Server) ClearTwitchMessages(w http.ResponseWriter, r *http.Request) {
	s.twitch.ClearMessages()
	writeJSON(w, http.StatusOK, interfaces.OkMessage("消息已清空"))
}

// ReplyToChat generates an AI reply for one chat message, records the
// interaction and synthesizes the reply.
func (s *Server) ReplyToChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID    string `json:"messageId"`
		CustomPrompt string `json:"customPrompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if _, ok := s.twitch.MessageByID(req.MessageID); !ok {
		writeError(w, http.StatusNotFound, "消息不存在")
		return
	}
	data, err := s.replyToChatMessage(r.Context(), req.MessageID, req.CustomPrompt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, data)
}

func (s *Server) SayToChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "缺少消息内容")
		return
	}
	writeResult(w, s.twitch.Say(req.Text))
}

// replyToChatMessage runs the full reply flow: generation grounded on the
// active memory, interaction recording, narration and broadcast.
func (s *Server) replyToChatMessage(ctx context.Context, messageID, customPrompt string) (map[string]interface{}, error) {
	msg, ok := s.twitch.MessageByID(messageID)
	if !ok {
		return nil, errors.New("消息不存在")
	}

	systemPrompt := customPrompt
	if systemPrompt == "" {
		systemPrompt = s.orch.Settings().SystemPrompt
	}
	memoryContext := ""
	if active := s.mem.Active(); active != nil {
		memoryContext = active.Content
	}

	reply, err := s.ai.ReplyToChat(ctx, msg.Message, msg.Username, systemPrompt, memoryContext, interfaces.GenerateOptions{})
	if err != nil {
		return nil, err
	}

	s.mem.Record(memory.RecordRequest{
		Kind:   models.KindChatReply,
		Input:  msg.Username + ": " + msg.Message,
		Output: reply,
	})

	voice, rate := s.tts.Config()
	ttsRes := s.tts.Synthesize(ctx, reply, voice, rate)
	var audio string
	if ttsRes.Success {
		audio = ttsRes.AudioURL
	}

	data := map[string]interface{}{
		"reply":           reply,
		"originalMessage": msg,
		"audio":           audio,
	}
	s.hub.Publish(interfaces.Event{Kind: interfaces.EventChatReply, Payload: data})
	return data, nil
}

// generateClientID generates a unique client ID
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}

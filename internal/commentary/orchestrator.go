package commentary

import (
	"context"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
	"ai-gamer/server/internal/memory"
	"ai-gamer/server/internal/models"
)

// Commentary modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

const (
	minIntervalSeconds = 5
	maxIntervalSeconds = 60
	settingsKey        = "commentary_settings"
	obsConfigKey       = "obs_config"
)

// MemoryService is the slice of the memory engine the orchestrator uses.
type MemoryService interface {
	Decorate(base string) string
	Record(req memory.RecordRequest)
}

type captureConfigurer interface {
	UpdateConfig(ctx context.Context, url, password *string) interfaces.Result
	Config() config.OBSConfig
}

// Orchestrator drives the capture, generate, narrate, publish pipeline and
// owns the commentary state machine.
type Orchestrator struct {
	gen      interfaces.GenerationProvider
	capture  interfaces.CaptureProvider
	narrator interfaces.NarrationProvider
	mem      MemoryService
	pub      interfaces.EventPublisher
	store    interfaces.SettingsStore

	mu           sync.Mutex
	mode         string
	running      bool
	intervalSecs int
	current      string
	lastTime     *time.Time
	settings     Settings
	schedulerSeq uint64

	// tickScale is one interval second in wall time. Shortened in tests.
	tickScale time.Duration

	busy *atomic.Bool
}

// New builds the orchestrator. Persisted settings override the defaults;
// narrator, mem, pub and store may be nil.
func New(gen interfaces.GenerationProvider, capture interfaces.CaptureProvider, narrator interfaces.NarrationProvider,
	mem MemoryService, pub interfaces.EventPublisher, store interfaces.SettingsStore, cfg config.CommentaryConfig) *Orchestrator {

	settings := defaultSettings()
	if cfg.MaxTokens > 0 {
		settings.MaxTokens = cfg.MaxTokens
	}
	if store != nil {
		if _, err := store.GetSetting(settingsKey, &settings); err != nil {
			log.Printf("[Commentary] 读取已保存设置失败: %v", err)
		}
	}

	interval := cfg.AutoIntervalSeconds
	if interval == 0 {
		interval = 10
	}
	if settings.AutoIntervalSeconds > 0 {
		interval = settings.AutoIntervalSeconds
	}

	return &Orchestrator{
		gen:          gen,
		capture:      capture,
		narrator:     narrator,
		mem:          mem,
		pub:          pub,
		store:        store,
		mode:         ModeManual,
		intervalSecs: clampInterval(interval),
		settings:     settings,
		tickScale:    time.Second,
		busy:         atomic.NewBool(false),
	}
}

func clampInterval(seconds int) int {
	if seconds < minIntervalSeconds {
		return minIntervalSeconds
	}
	if seconds > maxIntervalSeconds {
		return maxIntervalSeconds
	}
	return seconds
}

func (o *Orchestrator) publish(kind interfaces.EventKind, payload interface{}) {
	if o.pub != nil {
		o.pub.Publish(interfaces.Event{Kind: kind, Payload: payload})
	}
}

// SetMode switches between manual and auto. A running commentary is stopped
// first; the new mode starts idle.
func (o *Orchestrator) SetMode(mode string) interfaces.Result {
	if mode != ModeManual && mode != ModeAuto {
		return interfaces.Fail("无效的模式: " + mode)
	}

	o.mu.Lock()
	wasRunning := o.running
	if wasRunning {
		o.stopLocked()
	}
	o.mode = mode
	o.mu.Unlock()

	if wasRunning {
		o.publish(interfaces.EventStopped, nil)
	}
	o.publish(interfaces.EventModeChanged, interfaces.ModePayload{Mode: mode})
	return interfaces.Ok(map[string]string{"mode": mode})
}

// Start begins commentary in the current mode. The capture source must be
// reachable; in auto mode the scheduler fires immediately.
func (o *Orchestrator) Start(ctx context.Context) interfaces.Result {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return interfaces.Fail("解说已在运行中")
	}
	o.mu.Unlock()

	if !o.capture.Connected() {
		if res := o.capture.Connect(ctx); !res.Success {
			return interfaces.Fail("无法连接 OBS: " + res.Message)
		}
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return interfaces.Fail("解说已在运行中")
	}
	o.running = true
	mode := o.mode
	if mode == ModeAuto {
		o.startSchedulerLocked()
	}
	o.mu.Unlock()

	log.Printf("[Commentary] 解说已启动 (%s 模式)", mode)
	o.publish(interfaces.EventStarted, interfaces.ModePayload{Mode: mode})
	return interfaces.Ok(map[string]string{"mode": mode})
}

// Stop halts commentary and the scheduler. Stopping an idle orchestrator is
// a no-op that still succeeds.
func (o *Orchestrator) Stop() interfaces.Result {
	o.mu.Lock()
	wasRunning := o.running
	o.stopLocked()
	o.mu.Unlock()

	if wasRunning {
		log.Println("[Commentary] 解说已停止")
		o.publish(interfaces.EventStopped, nil)
	}
	return interfaces.OkMessage("解说已停止")
}

// stopLocked clears the running flag and invalidates any scheduler
// goroutine. Callers hold o.mu.
func (o *Orchestrator) stopLocked() {
	o.running = false
	o.schedulerSeq++
}

// SetAutoInterval changes the auto-commentary cadence, clamped to the
// allowed range. A live scheduler restarts on the new interval and fires
// right away.
func (o *Orchestrator) SetAutoInterval(seconds int) interfaces.Result {
	clamped := clampInterval(seconds)

	o.mu.Lock()
	o.intervalSecs = clamped
	o.settings.AutoIntervalSeconds = clamped
	settings := o.settings
	if o.running && o.mode == ModeAuto {
		o.startSchedulerLocked()
	}
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.SaveSetting(settingsKey, settings); err != nil {
			log.Printf("[Commentary] 保存设置失败: %v", err)
		}
	}
	o.publish(interfaces.EventIntervalChanged, interfaces.IntervalPayload{Seconds: clamped})
	return interfaces.Ok(map[string]int{"seconds": clamped})
}

// startSchedulerLocked launches a scheduler goroutine bound to a fresh
// sequence number. Any previous scheduler sees the bump and dies without
// running again. Callers hold o.mu.
func (o *Orchestrator) startSchedulerLocked() {
	o.schedulerSeq++
	seq := o.schedulerSeq
	interval := time.Duration(o.intervalSecs) * o.tickScale
	go o.runScheduler(seq, interval)
}

func (o *Orchestrator) runScheduler(seq uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !o.schedulerAlive(seq) {
			return
		}
		if res := o.PerformCommentary(context.Background(), ""); !res.Success {
			log.Printf("[Commentary] 定时解说跳过: %s", res.Message)
		}
		<-ticker.C
	}
}

func (o *Orchestrator) schedulerAlive(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running && o.mode == ModeAuto && o.schedulerSeq == seq
}

func (o *Orchestrator) fail(message string) interfaces.Result {
	log.Printf("[Commentary] %s", message)
	o.publish(interfaces.EventError, interfaces.ErrorPayload{Message: message})
	return interfaces.Fail(message)
}

// PerformCommentary runs one full screenshot pipeline. Only one pipeline
// runs at a time; a second caller gets a busy failure instead of queueing.
// directorHint optionally steers the generation.
func (o *Orchestrator) PerformCommentary(ctx context.Context, directorHint string) interfaces.Result {
	if !o.busy.CompareAndSwap(false, true) {
		return interfaces.Fail("上一条解说还在处理中")
	}
	defer o.busy.Store(false)

	o.publish(interfaces.EventProcessing, interfaces.ProcessingPayload{Status: interfaces.StageCapturing})
	screenshot, err := o.capture.CaptureScreenshot(ctx)
	if err != nil {
		return o.fail("截图失败: " + err.Error())
	}
	o.publish(interfaces.EventScreenshot, interfaces.ScreenshotPayload{Screenshot: "data:image/jpeg;base64," + screenshot})

	o.publish(interfaces.EventProcessing, interfaces.ProcessingPayload{Status: interfaces.StageAnalyzing})
	settings := o.snapshotSettings()
	systemPrompt := o.decorate(settings.SystemPrompt)
	userPrompt := settings.UserPrompt
	if directorHint != "" {
		userPrompt += "\n导演指示: " + directorHint
	}

	text, err := o.gen.GenerateCommentary(ctx, screenshot, systemPrompt, userPrompt,
		interfaces.GenerateOptions{MaxTokens: settings.MaxTokens, Temperature: 0.8})
	if err != nil {
		return o.fail("生成解说失败: " + err.Error())
	}

	now := time.Now()
	o.mu.Lock()
	o.current = text
	o.lastTime = &now
	o.mu.Unlock()
	o.publish(interfaces.EventText, interfaces.TextPayload{Text: text, Timestamp: now.Format(time.RFC3339)})

	o.narrate(ctx, text, settings)
	o.publish(interfaces.EventProcessing, interfaces.ProcessingPayload{Status: interfaces.StageComplete})

	if o.mem != nil {
		o.mem.Record(memory.RecordRequest{Kind: models.KindCommentary, Input: directorHint, Output: text, HasImage: true})
	}
	return interfaces.Ok(map[string]string{"text": text})
}

// CommentOnText generates commentary for user-supplied text, skipping the
// capture stage.
func (o *Orchestrator) CommentOnText(ctx context.Context, input string) interfaces.Result {
	if input == "" {
		return interfaces.Fail("文本内容不能为空")
	}
	if !o.busy.CompareAndSwap(false, true) {
		return interfaces.Fail("上一条解说还在处理中")
	}
	defer o.busy.Store(false)

	o.publish(interfaces.EventProcessing, interfaces.ProcessingPayload{Status: interfaces.StageAnalyzing})
	settings := o.snapshotSettings()
	text, err := o.gen.GenerateTextCommentary(ctx, input, o.decorate(settings.SystemPrompt),
		interfaces.GenerateOptions{MaxTokens: settings.MaxTokens, Temperature: 0.8})
	if err != nil {
		return o.fail("生成解说失败: " + err.Error())
	}

	now := time.Now()
	o.mu.Lock()
	o.current = text
	o.lastTime = &now
	o.mu.Unlock()
	o.publish(interfaces.EventText, interfaces.TextPayload{Text: text, Timestamp: now.Format(time.RFC3339), InputText: input})

	o.narrate(ctx, text, settings)
	o.publish(interfaces.EventProcessing, interfaces.ProcessingPayload{Status: interfaces.StageComplete})

	if o.mem != nil {
		o.mem.Record(memory.RecordRequest{Kind: models.KindTextCommentary, Input: input, Output: text})
	}
	return interfaces.Ok(map[string]string{"text": text})
}

// SpeakText speaks the given text directly without generation. The text
// always goes out; synthesis failures are logged and only suppress the
// audio event.
func (o *Orchestrator) SpeakText(ctx context.Context, text string) interfaces.Result {
	if text == "" {
		return interfaces.Fail("文本内容不能为空")
	}
	if o.narrator == nil {
		return interfaces.Fail("语音合成未配置")
	}

	settings := o.snapshotSettings()
	now := time.Now()
	o.mu.Lock()
	o.current = text
	o.lastTime = &now
	o.mu.Unlock()
	o.publish(interfaces.EventText, interfaces.TextPayload{Text: text, Timestamp: now.Format(time.RFC3339), Direct: true})

	res := o.narrator.Synthesize(ctx, text, settings.TTSVoice, settings.TTSRate)
	if !res.Success {
		log.Printf("[Commentary] 语音合成失败: %s", res.Message)
		return interfaces.Ok(map[string]string{"text": text})
	}
	o.publish(interfaces.EventAudio, interfaces.AudioPayload{AudioURL: res.AudioURL, Text: text, Timestamp: now.Format(time.RFC3339)})
	return interfaces.Ok(res)
}

// narrate runs text-to-speech for a finished commentary. Synthesis failures
// never fail the pipeline; the text event already went out.
func (o *Orchestrator) narrate(ctx context.Context, text string, settings Settings) {
	if !settings.TTSEnabled || o.narrator == nil {
		return
	}
	o.publish(interfaces.EventProcessing, interfaces.ProcessingPayload{Status: interfaces.StageSynthesizing})
	res := o.narrator.Synthesize(ctx, text, settings.TTSVoice, settings.TTSRate)
	if !res.Success {
		log.Printf("[Commentary] 语音合成失败: %s", res.Message)
		return
	}
	o.publish(interfaces.EventAudio, interfaces.AudioPayload{AudioURL: res.AudioURL, Text: text, Timestamp: time.Now().Format(time.RFC3339)})
}

func (o *Orchestrator) decorate(base string) string {
	if o.mem == nil {
		return base
	}
	return o.mem.Decorate(base)
}

func (o *Orchestrator) snapshotSettings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	return o.snapshotSettings()
}

// UpdateSettings applies a partial settings patch, forwards capture and
// narration changes to their providers, persists the merged settings and
// broadcasts them.
func (o *Orchestrator) UpdateSettings(ctx context.Context, u SettingsUpdate) interfaces.Result {
	o.mu.Lock()
	o.settings.apply(u)
	settings := o.settings
	o.mu.Unlock()

	if o.narrator != nil && (u.TTSVoice != nil || u.TTSRate != nil) {
		o.narrator.UpdateConfig(settings.TTSVoice, settings.TTSRate)
	}
	if u.OBS != nil {
		if cfg, ok := o.capture.(captureConfigurer); ok {
			if res := cfg.UpdateConfig(ctx, u.OBS.URL, u.OBS.Password); !res.Success {
				log.Printf("[Commentary] OBS 配置更新失败: %s", res.Message)
			} else if o.store != nil {
				if err := o.store.SaveSetting(obsConfigKey, cfg.Config()); err != nil {
					log.Printf("[Commentary] 保存 OBS 配置失败: %v", err)
				}
			}
		}
	}
	if u.AutoIntervalSeconds != nil {
		o.SetAutoInterval(*u.AutoIntervalSeconds)
	}

	if o.store != nil {
		if err := o.store.SaveSetting(settingsKey, settings); err != nil {
			log.Printf("[Commentary] 保存设置失败: %v", err)
		}
	}
	o.publish(interfaces.EventSettingsUpdated, settings)
	return interfaces.Ok(settings)
}

// State is a point-in-time snapshot pushed to clients on connect.
type State struct {
	Mode                string   `json:"mode"`
	IsRunning           bool     `json:"isRunning"`
	AutoIntervalSeconds int      `json:"autoIntervalSeconds"`
	CurrentCommentary   string   `json:"currentCommentary"`
	LastCommentaryTime  *string  `json:"lastCommentaryTime"`
	OBSConnected        bool     `json:"obsConnected"`
	AIInitialized       bool     `json:"aiInitialized"`
	Settings            Settings `json:"settings"`
}

// State reports the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	var last *string
	if o.lastTime != nil {
		s := o.lastTime.Format(time.RFC3339)
		last = &s
	}
	st := State{
		Mode:                o.mode,
		IsRunning:           o.running,
		AutoIntervalSeconds: o.intervalSecs,
		CurrentCommentary:   o.current,
		LastCommentaryTime:  last,
		Settings:            o.settings,
	}
	o.mu.Unlock()

	st.OBSConnected = o.capture.Connected()
	st.AIInitialized = o.gen.Initialized()
	return st
}

package commentary

// Settings are the user-tunable commentary parameters. They persist across
// restarts through the settings table.
type Settings struct {
	SystemPrompt string `json:"systemPrompt"`
	UserPrompt   string `json:"userPrompt"`
	TTSEnabled   bool   `json:"ttsEnabled"`
	TTSVoice     string `json:"ttsVoice"`
	TTSRate      string `json:"ttsRate"`
	MaxTokens    int    `json:"maxTokens"`

	// AutoIntervalSeconds persists the auto-commentary cadence so it
	// survives restarts. 0 means never set through the panel.
	AutoIntervalSeconds int `json:"autoIntervalSeconds"`
}

const defaultSystemPrompt = `你是一个专业的游戏实况解说员，风格幽默风趣、富有激情。
你会看到游戏画面的截图，请根据画面内容进行解说。
要求：
1. 解说要简短有力，每次不超过三句话
2. 语气要像真正的直播解说，自然口语化
3. 关注画面中正在发生的事情，比如战斗、剧情、操作
4. 可以适当吐槽或者夸赞玩家的操作
5. 直接输出解说内容，不要任何前缀`

const defaultUserPrompt = "请解说当前的游戏画面。"

func defaultSettings() Settings {
	return Settings{
		SystemPrompt: defaultSystemPrompt,
		UserPrompt:   defaultUserPrompt,
		TTSEnabled:   true,
		TTSVoice:     "zh-CN-XiaoxiaoNeural",
		TTSRate:      "+0%",
		MaxTokens:    150,
	}
}

// OBSUpdate carries connection changes for the capture source.
type OBSUpdate struct {
	URL      *string `json:"url,omitempty"`
	Password *string `json:"password,omitempty"`
}

// SettingsUpdate is a partial settings patch. Nil fields keep their current
// value.
type SettingsUpdate struct {
	SystemPrompt        *string    `json:"systemPrompt,omitempty"`
	UserPrompt          *string    `json:"userPrompt,omitempty"`
	TTSEnabled          *bool      `json:"ttsEnabled,omitempty"`
	TTSVoice            *string    `json:"ttsVoice,omitempty"`
	TTSRate             *string    `json:"ttsRate,omitempty"`
	MaxTokens           *int       `json:"maxTokens,omitempty"`
	AutoIntervalSeconds *int       `json:"autoIntervalSeconds,omitempty"`
	OBS                 *OBSUpdate `json:"obs,omitempty"`
}

func (s *Settings) apply(u SettingsUpdate) {
	if u.SystemPrompt != nil {
		s.SystemPrompt = *u.SystemPrompt
	}
	if u.UserPrompt != nil {
		s.UserPrompt = *u.UserPrompt
	}
	if u.TTSEnabled != nil {
		s.TTSEnabled = *u.TTSEnabled
	}
	if u.TTSVoice != nil {
		s.TTSVoice = *u.TTSVoice
	}
	if u.TTSRate != nil {
		s.TTSRate = *u.TTSRate
	}
	if u.MaxTokens != nil && *u.MaxTokens > 0 {
		s.MaxTokens = *u.MaxTokens
	}
	if u.AutoIntervalSeconds != nil {
		s.AutoIntervalSeconds = clampInterval(*u.AutoIntervalSeconds)
	}
}

package interfaces

import "context"

// GenerateOptions holds per-call generation parameters.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// GenerationProvider produces commentary text from a prompt, optionally
// conditioned on a screenshot.
type GenerationProvider interface {
	// GenerateCommentary analyzes a base64 JPEG screenshot and returns
	// commentary text.
	GenerateCommentary(ctx context.Context, imageBase64, systemPrompt, userPrompt string, opts GenerateOptions) (string, error)

	// GenerateTextCommentary returns commentary for plain text input.
	GenerateTextCommentary(ctx context.Context, text, systemPrompt string, opts GenerateOptions) (string, error)

	// Initialized reports whether the provider has credentials configured.
	Initialized() bool
}

// CaptureProvider grabs snapshots of the live program output.
type CaptureProvider interface {
	Connect(ctx context.Context) Result
	Disconnect()
	Connected() bool

	// CaptureScreenshot returns a base64-encoded JPEG of the current scene.
	CaptureScreenshot(ctx context.Context) (string, error)
}

// SynthesisResult is the outcome of one text-to-speech call. Failure is
// non-fatal to callers: the commentary text stands on its own.
type SynthesisResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
	Text     string `json:"text,omitempty"`
}

// NarrationProvider turns commentary text into playable audio.
type NarrationProvider interface {
	Synthesize(ctx context.Context, text, voice, rate string) SynthesisResult
	UpdateConfig(voice, rate string)
}

// SettingsStore persists configuration key/value pairs.
type SettingsStore interface {
	SaveSetting(key string, value interface{}) error

	// GetSetting unmarshals the stored value into out and reports whether
	// the key existed.
	GetSetting(key string, out interface{}) (bool, error)
}

package tts

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
)

const (
	synthesisTimeout = 60 * time.Second
	outputFormat     = "audio-24khz-96kbitrate-mono-mp3"
)

// Client synthesizes speech through the Azure Cognitive Services REST API
// and writes the resulting mp3 files under an audio directory served at
// /audio.
type Client struct {
	httpClient *http.Client
	audioDir   string

	mu     sync.RWMutex
	key    string
	region string
	voice  string
	rate   string
}

func NewClient(cfg config.TTSConfig) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: synthesisTimeout},
		audioDir:   cfg.AudioDir,
		key:        cfg.AzureKey,
		region:     cfg.AzureRegion,
		voice:      cfg.Voice,
		rate:       cfg.Rate,
	}

	if err := os.MkdirAll(cfg.AudioDir, 0755); err != nil {
		log.Printf("[TTS] Failed to create audio dir: %v", err)
	}

	if c.key == "" {
		log.Println("[TTS] Warning: no Azure Speech key configured, narration unavailable")
	} else {
		log.Println("[TTS] Narration client initialized (Azure Speech)")
	}
	return c
}

// AudioDir returns the directory synthesized files are written to.
func (c *Client) AudioDir() string {
	return c.audioDir
}

// UpdateConfig merges voice and rate changes; empty values keep the
// previous setting.
func (c *Client) UpdateConfig(voice, rate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if voice != "" {
		c.voice = voice
	}
	if rate != "" {
		c.rate = rate
	}
}

// Config returns the current voice and rate.
func (c *Client) Config() (voice, rate string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voice, c.rate
}

// Synthesize converts text to speech. Failures come back as unsuccessful
// results rather than errors: narration is never fatal to a commentary run.
func (c *Client) Synthesize(ctx context.Context, text, voice, rate string) interfaces.SynthesisResult {
	if strings.TrimSpace(text) == "" {
		return interfaces.SynthesisResult{Success: false, Message: "文字内容为空"}
	}

	c.mu.RLock()
	key, region := c.key, c.region
	if voice == "" {
		voice = c.voice
	}
	if rate == "" {
		rate = c.rate
	}
	c.mu.RUnlock()

	if key == "" {
		return interfaces.SynthesisResult{Success: false, Message: "Azure Speech未配置"}
	}

	ssml := fmt.Sprintf(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="zh-CN">
  <voice name="%s">
    <prosody rate="%s">%s</prosody>
  </voice>
</speak>`, voice, rate, escapeText(text))

	url := fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(ssml))
	if err != nil {
		return interfaces.SynthesisResult{Success: false, Message: err.Error()}
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", outputFormat)
	req.Header.Set("User-Agent", "ai-gamer")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[TTS] Synthesis request failed: %v", err)
		return interfaces.SynthesisResult{Success: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("语音合成失败: HTTP %d: %s", resp.StatusCode, string(body))
		log.Printf("[TTS] %s", msg)
		return interfaces.SynthesisResult{Success: false, Message: msg}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.SynthesisResult{Success: false, Message: err.Error()}
	}

	filename := uuid.NewString() + ".mp3"
	if err := os.WriteFile(filepath.Join(c.audioDir, filename), audio, 0644); err != nil {
		return interfaces.SynthesisResult{Success: false, Message: err.Error()}
	}

	log.Printf("[TTS] Synthesized %s (%d bytes)", filename, len(audio))
	return interfaces.SynthesisResult{
		Success:  true,
		Filename: filename,
		AudioURL: "/audio/" + filename,
		Text:     text,
	}
}

// CleanupOldFiles removes synthesized audio older than maxAge.
func (c *Client) CleanupOldFiles(maxAge time.Duration) {
	entries, err := os.ReadDir(c.audioDir)
	if err != nil {
		log.Printf("[TTS] Cleanup failed: %v", err)
		return
	}

	now := time.Now()
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			path := filepath.Join(c.audioDir, entry.Name())
			if err := os.Remove(path); err == nil {
				log.Printf("[TTS] Removed stale audio: %s", entry.Name())
			}
		}
	}
}

// StartCleanupLoop removes stale audio files periodically until ctx ends.
func (c *Client) StartCleanupLoop(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CleanupOldFiles(maxAge)
			}
		}
	}()
}

func escapeText(text string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(text)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.AI.Generation.Model != "gemini-2.5-flash" {
		t.Fatalf("model = %q", cfg.AI.Generation.Model)
	}
	if cfg.TTS.Voice != "zh-CN-XiaoxiaoNeural" {
		t.Fatalf("voice = %q", cfg.TTS.Voice)
	}
	if cfg.OBS.URL != "ws://127.0.0.1:4455" {
		t.Fatalf("obs url = %q", cfg.OBS.URL)
	}
	if cfg.Commentary.AutoIntervalSeconds != 10 {
		t.Fatalf("interval = %d", cfg.Commentary.AutoIntervalSeconds)
	}
	if cfg.Memory.MaxMemoryLength != 500 {
		t.Fatalf("max memory length = %d", cfg.Memory.MaxMemoryLength)
	}
}

func TestAutoSummarizeDefaultsOn(t *testing.T) {
	path := writeConfig(t, "memory:\n  max_memory_length: 300\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Memory.AutoSummarize {
		t.Fatal("auto_summarize must default to true when unset")
	}

	path = writeConfig(t, "memory:\n  auto_summarize: false\n")
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.AutoSummarize {
		t.Fatal("explicit auto_summarize: false must stick")
	}
}

func TestEnvOverridesConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("TWITCH_CHANNEL", "envchannel")

	path := writeConfig(t, "ai:\n  generation:\n    api_key: file-key\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AI.Generation.APIKey != "env-key" {
		t.Fatalf("api key = %q, want env override", cfg.AI.Generation.APIKey)
	}
	if cfg.AI.Embedding.APIKey != "env-key" {
		t.Fatalf("embedding key = %q, want shared env key", cfg.AI.Embedding.APIKey)
	}
	if cfg.Twitch.Channel != "envchannel" {
		t.Fatalf("channel = %q", cfg.Twitch.Channel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

package tts

import (
	"context"
	"testing"

	"ai-gamer/server/internal/config"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(config.TTSConfig{
		Voice:    "zh-CN-XiaoxiaoNeural",
		Rate:     "+0%",
		AudioDir: t.TempDir(),
	})
}

func TestSynthesizeWithoutKeyFails(t *testing.T) {
	c := newTestClient(t)
	res := c.Synthesize(context.Background(), "你好", "", "")
	if res.Success {
		t.Fatal("synthesis without a key must fail")
	}
	if res.Message == "" {
		t.Fatal("failure must carry a message")
	}
}

func TestUpdateConfigMergesEmptyValues(t *testing.T) {
	c := newTestClient(t)

	c.UpdateConfig("zh-CN-YunxiNeural", "")
	voice, rate := c.Config()
	if voice != "zh-CN-YunxiNeural" {
		t.Fatalf("voice = %q", voice)
	}
	if rate != "+0%" {
		t.Fatalf("rate = %q, want unchanged", rate)
	}

	c.UpdateConfig("", "+20%")
	voice, rate = c.Config()
	if voice != "zh-CN-YunxiNeural" || rate != "+20%" {
		t.Fatalf("voice=%q rate=%q", voice, rate)
	}
}

func TestEscapeText(t *testing.T) {
	cases := map[string]string{
		"a<b":   "a&lt;b",
		"a&b":   "a&amp;b",
		"x>y":   "x&gt;y",
		"纯中文":   "纯中文",
		"1<2&3": "1&lt;2&amp;3",
	}
	for in, want := range cases {
		if got := escapeText(in); got != want {
			t.Errorf("escapeText(%q) = %q, want %q", in, got, want)
		}
	}
}

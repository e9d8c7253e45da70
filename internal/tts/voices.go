package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Voice describes one synthesis voice.
type Voice struct {
	ShortName    string `json:"ShortName"`
	FriendlyName string `json:"FriendlyName"`
}

type azureVoice struct {
	ShortName string `json:"ShortName"`
	LocalName string `json:"LocalName"`
	Locale    string `json:"Locale"`
}

// Voices returns the available Chinese voices, querying Azure when
// configured and falling back to a static list otherwise.
func (c *Client) Voices(ctx context.Context) []Voice {
	c.mu.RLock()
	key, region := c.key, c.region
	c.mu.RUnlock()

	if key != "" {
		if voices, err := c.fetchVoices(ctx, key, region); err == nil && len(voices) > 0 {
			return voices
		}
	}
	return defaultVoices
}

func (c *Client) fetchVoices(ctx context.Context, key, region string) ([]Voice, error) {
	url := fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/voices/list", region)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var all []azureVoice
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(all))
	for _, v := range all {
		if !strings.HasPrefix(v.Locale, "zh-") {
			continue
		}
		voices = append(voices, Voice{
			ShortName:    v.ShortName,
			FriendlyName: fmt.Sprintf("%s (%s)", v.LocalName, v.Locale),
		})
	}
	return voices, nil
}

var defaultVoices = []Voice{
	{ShortName: "zh-CN-XiaoxiaoNeural", FriendlyName: "晓晓 (女声, 普通话)"},
	{ShortName: "zh-CN-YunxiNeural", FriendlyName: "云希 (男声, 普通话)"},
	{ShortName: "zh-CN-YunjianNeural", FriendlyName: "云健 (男声, 普通话)"},
	{ShortName: "zh-CN-XiaoyiNeural", FriendlyName: "晓伊 (女声, 普通话)"},
	{ShortName: "zh-CN-YunyangNeural", FriendlyName: "云扬 (男声, 新闻风格)"},
	{ShortName: "zh-CN-XiaochenNeural", FriendlyName: "晓辰 (女声, 普通话)"},
	{ShortName: "zh-TW-HsiaoChenNeural", FriendlyName: "曉臻 (女声, 台湾)"},
	{ShortName: "zh-HK-HiuGaaiNeural", FriendlyName: "曉佳 (女声, 香港)"},
}

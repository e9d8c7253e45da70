package chat

import (
	"strings"
	"time"

	"ai-gamer/server/internal/interfaces"
)

// ircMessage is one parsed IRC line with Twitch message tags.
type ircMessage struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Channel string
	Text    string
}

func splitIRCLines(data string) []string {
	var lines []string
	for _, line := range strings.Split(data, "\r\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseLine parses one IRC line of the form
// @tags :prefix COMMAND #channel :text
func parseLine(line string) (ircMessage, bool) {
	var msg ircMessage

	if strings.HasPrefix(line, "@") {
		idx := strings.Index(line, " ")
		if idx < 0 {
			return msg, false
		}
		msg.Tags = parseTags(line[1:idx])
		line = line[idx+1:]
	}

	if strings.HasPrefix(line, ":") {
		idx := strings.Index(line, " ")
		if idx < 0 {
			return msg, false
		}
		msg.Prefix = line[1:idx]
		line = line[idx+1:]
	}

	if idx := strings.Index(line, " :"); idx >= 0 {
		msg.Text = line[idx+2:]
		line = line[:idx]
	}

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return msg, false
	}
	msg.Command = parts[0]
	if len(parts) > 1 {
		msg.Channel = strings.TrimPrefix(parts[1], "#")
	}
	return msg, true
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			tags[kv[0]] = unescapeTag(kv[1])
		}
	}
	return tags
}

// unescapeTag reverses IRCv3 tag value escaping.
func unescapeTag(value string) string {
	r := strings.NewReplacer(
		`\:`, ";",
		`\s`, " ",
		`\\`, `\`,
		`\r`, "\r",
		`\n`, "\n",
	)
	return r.Replace(value)
}

func (m ircMessage) toChatMessage() interfaces.ChatMessage {
	username := m.Tags["display-name"]
	if username == "" {
		// fall back to the login in the prefix (nick!user@host)
		if idx := strings.Index(m.Prefix, "!"); idx > 0 {
			username = m.Prefix[:idx]
		}
	}

	id := m.Tags["id"]
	if id == "" {
		id = time.Now().Format("20060102150405.000000000")
	}

	color := m.Tags["color"]
	if color == "" {
		color = "#9147ff"
	}

	return interfaces.ChatMessage{
		ID:            id,
		Channel:       m.Channel,
		Username:      username,
		UserID:        m.Tags["user-id"],
		Message:       m.Text,
		Color:         color,
		Timestamp:     time.Now().Format(time.RFC3339),
		IsSubscriber:  m.Tags["subscriber"] == "1",
		IsMod:         m.Tags["mod"] == "1",
		IsBroadcaster: strings.Contains(m.Tags["badges"], "broadcaster/1"),
	}
}

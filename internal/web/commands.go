package web

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"ai-gamer/server/internal/commentary"
	"ai-gamer/server/internal/interfaces"
	"ai-gamer/server/internal/memory"
)

// Reply-only event kinds, sent to the requesting client instead of being
// broadcast.
const (
	evScenes       interfaces.EventKind = "obs:scenes"
	evChatMessages interfaces.EventKind = "twitch:messages"
	evMemoryList   interfaces.EventKind = "memory:list"
	evCommandError interfaces.EventKind = "command:error"
)

const commandTimeout = 2 * time.Minute

// handleCommand dispatches one inbound WebSocket command. Results that
// matter to every viewer go out through the hub; lookups go back to the
// caller only.
func (s *Server) handleCommand(client *Client, cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Type {
	case "state:get":
		client.Reply(interfaces.Event{Kind: interfaces.EventStateSync, Payload: s.orch.State()})

	case "obs:connect":
		res := s.obs.Connect(ctx)
		s.hub.Publish(interfaces.Event{Kind: interfaces.EventOBSStatus, Payload: map[string]bool{"connected": s.obs.Connected()}})
		s.replyOnFailure(client, cmd.Type, res)

	case "obs:disconnect":
		s.obs.Disconnect()
		s.hub.Publish(interfaces.Event{Kind: interfaces.EventOBSStatus, Payload: map[string]bool{"connected": false}})

	case "obs:getScenes":
		scenes, current, err := s.obs.Scenes(ctx)
		if err != nil {
			s.replyError(client, cmd.Type, err.Error())
			return
		}
		client.Reply(interfaces.Event{Kind: evScenes, Payload: map[string]interface{}{"scenes": scenes, "current": current}})

	case "mode:set":
		var data struct {
			Mode string `json:"mode"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		s.replyOnFailure(client, cmd.Type, s.orch.SetMode(data.Mode))

	case "commentary:start":
		s.replyOnFailure(client, cmd.Type, s.orch.Start(ctx))

	case "commentary:stop":
		s.orch.Stop()

	case "commentary:trigger":
		var data struct {
			Hint string `json:"hint"`
		}
		if len(cmd.Data) > 0 {
			json.Unmarshal(cmd.Data, &data)
		}
		s.replyOnFailure(client, cmd.Type, s.orch.PerformCommentary(ctx, data.Hint))

	case "commentary:text":
		var data struct {
			Text string `json:"text"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		s.replyOnFailure(client, cmd.Type, s.orch.CommentOnText(ctx, data.Text))

	case "commentary:speak":
		var data struct {
			Text string `json:"text"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		s.replyOnFailure(client, cmd.Type, s.orch.SpeakText(ctx, data.Text))

	case "settings:update":
		var update commentary.SettingsUpdate
		if !s.decodeCommand(client, cmd, &update) {
			return
		}
		s.replyOnFailure(client, cmd.Type, s.orch.UpdateSettings(ctx, update))

	case "interval:set":
		var data struct {
			Seconds int `json:"seconds"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		s.orch.SetAutoInterval(data.Seconds)

	case "twitch:connect":
		var data struct {
			Channel  string `json:"channel"`
			Username string `json:"username"`
			Token    string `json:"token"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		s.replyOnFailure(client, cmd.Type, s.twitch.Connect(ctx, data.Channel, data.Username, data.Token))

	case "twitch:disconnect":
		s.twitch.Disconnect()

	case "twitch:reply":
		var data struct {
			MessageID    string `json:"messageId"`
			CustomPrompt string `json:"customPrompt"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		if _, err := s.replyToChatMessage(ctx, data.MessageID, data.CustomPrompt); err != nil {
			s.replyError(client, cmd.Type, err.Error())
		}

	case "twitch:getMessages":
		var data struct {
			Limit int `json:"limit"`
		}
		if len(cmd.Data) > 0 {
			json.Unmarshal(cmd.Data, &data)
		}
		if data.Limit <= 0 {
			data.Limit = 50
		}
		client.Reply(interfaces.Event{Kind: evChatMessages, Payload: s.twitch.RecentMessages(data.Limit)})

	case "memory:getAll":
		memories, err := s.mem.List(100)
		if err != nil {
			s.replyError(client, cmd.Type, err.Error())
			return
		}
		client.Reply(interfaces.Event{Kind: evMemoryList, Payload: memories})

	case "memory:getActive":
		client.Reply(interfaces.Event{Kind: interfaces.EventMemoryActive, Payload: s.mem.Active()})

	case "memory:setActive":
		var data struct {
			MemoryIDs []uint `json:"memoryIds"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		if _, err := s.mem.SetActive(data.MemoryIDs); err != nil {
			s.replyError(client, cmd.Type, err.Error())
		}

	case "memory:clearActive":
		s.mem.ClearActive()

	case "memory:create":
		var data struct {
			Title    string   `json:"title"`
			Content  string   `json:"content"`
			GameName string   `json:"game_name"`
			Tags     []string `json:"tags"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		if _, err := s.mem.CreateManual(data.Title, data.Content, data.GameName, data.Tags); err != nil {
			s.replyError(client, cmd.Type, err.Error())
		}

	case "memory:delete":
		var data struct {
			ID uint `json:"id"`
		}
		if !s.decodeCommand(client, cmd, &data) {
			return
		}
		if err := s.mem.Delete(data.ID); err != nil {
			s.replyError(client, cmd.Type, err.Error())
		}

	case "memory:generateFromSession":
		var data struct {
			Title        string   `json:"title"`
			GameName     string   `json:"game_name"`
			Tags         []string `json:"tags"`
			ClearSession bool     `json:"clearSession"`
		}
		if len(cmd.Data) > 0 {
			json.Unmarshal(cmd.Data, &data)
		}
		if _, err := s.mem.GenerateFromSession(ctx, memory.GenerateOptions{
			Title:        data.Title,
			GameName:     data.GameName,
			Tags:         data.Tags,
			ClearSession: data.ClearSession,
		}); err != nil {
			s.replyError(client, cmd.Type, err.Error())
		}

	case "memory:newSession":
		s.mem.NewSession()

	default:
		log.Printf("[Hub] Unknown command from %s: %s", client.ID, cmd.Type)
	}
}

func (s *Server) decodeCommand(client *Client, cmd Command, out interface{}) bool {
	if err := json.Unmarshal(cmd.Data, out); err != nil {
		s.replyError(client, cmd.Type, "无效的命令内容")
		return false
	}
	return true
}

func (s *Server) replyOnFailure(client *Client, command string, res interfaces.Result) {
	if !res.Success {
		s.replyError(client, command, res.Message)
	}
}

func (s *Server) replyError(client *Client, command, message string) {
	client.Reply(interfaces.Event{Kind: evCommandError, Payload: map[string]string{
		"command": command,
		"message": message,
	}})
}

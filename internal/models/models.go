package models

import (
	"encoding/json"
	"time"
)

// Memory context types.
const (
	ContextManual        = "manual"
	ContextAutoGenerated = "auto_generated"
	ContextSession       = "session"
)

// Memory is one durable AI memory record. Exactly zero or one memory is
// active at a time; the active one is folded into generation prompts.
type Memory struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Content     string     `gorm:"type:text;not null" json:"content"`
	ContextType string     `gorm:"size:32;index;default:manual" json:"context_type"`
	GameName    string     `gorm:"size:255" json:"game_name,omitempty"`
	Tags        string     `gorm:"type:text" json:"-"`
	TokenCount  int        `json:"token_count"`
	UsageCount  int        `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TagList returns the deserialized tags.
func (m *Memory) TagList() []string {
	if m.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(m.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// SetTags serializes tags onto the record.
func (m *Memory) SetTags(tags []string) {
	if len(tags) == 0 {
		m.Tags = ""
		return
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return
	}
	m.Tags = string(data)
}

// Interaction kinds.
const (
	KindCommentary     = "commentary"
	KindTextCommentary = "text_commentary"
	KindChatReply      = "chat_reply"
)

// Interaction is one recorded exchange, immutable once created. Rows double
// as the durable interaction log; SessionID groups them per session.
type Interaction struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"size:36;index" json:"session_id"`
	Kind      string    `gorm:"size:32" json:"type"`
	Input     string    `gorm:"type:text" json:"input,omitempty"`
	Output    string    `gorm:"type:text" json:"output"`
	HasImage  bool      `json:"has_image"`
	CreatedAt time.Time `json:"timestamp"`
}

// TokenUsage records token consumption of one generation call.
type TokenUsage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Type         string    `gorm:"size:32;index" json:"type"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Model        string    `gorm:"size:64" json:"model"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

// Setting is a persisted configuration key/value pair. Values are JSON.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

package memory

import (
	"context"

	"ai-gamer/server/internal/interfaces"
	"ai-gamer/server/internal/models"
	"ai-gamer/server/internal/storage"
)

// Store is the durable backing for memories, the interaction log, and
// settings. Implemented by storage.MySQLStore.
type Store interface {
	CreateMemory(m *models.Memory) error
	UpdateMemory(m *models.Memory) error
	GetMemory(id uint) (*models.Memory, error)
	DeleteMemory(id uint) error
	ListMemories(limit int) ([]*models.Memory, error)
	MemoriesByType(contextType string) ([]*models.Memory, error)
	MemoriesByGame(gameName string) ([]*models.Memory, error)
	SearchMemories(keyword string, limit int) ([]*models.Memory, error)
	IncrementMemoryUsage(id uint) error
	GetMemoryStats() (*storage.MemoryStats, error)

	AddInteraction(i *models.Interaction) error

	SaveSetting(key string, value interface{}) error
	GetSetting(key string, out interface{}) (bool, error)
}

// SlotStore persists the active-memory slot id across restarts.
// Implemented by storage.RedisStore; the engine falls back to the settings
// table when no slot store is wired.
type SlotStore interface {
	SaveActiveMemoryID(ctx context.Context, id uint) error
	LoadActiveMemoryID(ctx context.Context) (uint, bool, error)
}

// Generator is the slice of the generation provider the engine needs for
// summarization.
type Generator interface {
	GenerateTextCommentary(ctx context.Context, text, systemPrompt string, opts interfaces.GenerateOptions) (string, error)
}

// Searcher is the optional semantic index over memories.
type Searcher interface {
	Index(ctx context.Context, m *models.Memory) error
	Remove(ctx context.Context, id uint) error
	Search(ctx context.Context, query string, limit int) ([]uint, error)
}

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/models"
)

type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Memory{},
		&models.Interaction{},
		&models.TokenUsage{},
		&models.Setting{},
	); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ==================== Settings ====================

func (s *MySQLStore) SaveSetting(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	setting := models.Setting{Key: key, Value: string(data), UpdatedAt: time.Now()}
	return s.db.Save(&setting).Error
}

func (s *MySQLStore) GetSetting(key string, out interface{}) (bool, error) {
	var setting models.Setting
	err := s.db.First(&setting, "`key` = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(setting.Value), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal setting %s: %w", key, err)
	}
	return true, nil
}

// ==================== Memories ====================

func (s *MySQLStore) CreateMemory(m *models.Memory) error {
	return s.db.Create(m).Error
}

func (s *MySQLStore) UpdateMemory(m *models.Memory) error {
	return s.db.Save(m).Error
}

func (s *MySQLStore) GetMemory(id uint) (*models.Memory, error) {
	var m models.Memory
	err := s.db.First(&m, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MySQLStore) DeleteMemory(id uint) error {
	return s.db.Delete(&models.Memory{}, id).Error
}

func (s *MySQLStore) ListMemories(limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	var memories []*models.Memory
	err := s.db.Order("updated_at DESC").Limit(limit).Find(&memories).Error
	return memories, err
}

func (s *MySQLStore) MemoriesByType(contextType string) ([]*models.Memory, error) {
	var memories []*models.Memory
	err := s.db.Where("context_type = ?", contextType).
		Order("usage_count DESC, updated_at DESC").
		Find(&memories).Error
	return memories, err
}

func (s *MySQLStore) MemoriesByGame(gameName string) ([]*models.Memory, error) {
	var memories []*models.Memory
	err := s.db.Where("game_name = ?", gameName).
		Order("usage_count DESC, updated_at DESC").
		Find(&memories).Error
	return memories, err
}

func (s *MySQLStore) SearchMemories(keyword string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	term := "%" + keyword + "%"
	var memories []*models.Memory
	err := s.db.Where("title LIKE ? OR content LIKE ? OR tags LIKE ?", term, term, term).
		Order("usage_count DESC").
		Limit(limit).
		Find(&memories).Error
	return memories, err
}

func (s *MySQLStore) IncrementMemoryUsage(id uint) error {
	return s.db.Model(&models.Memory{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": time.Now(),
		}).Error
}

// MemoryStats aggregates the memory library for the status endpoint.
type MemoryStats struct {
	TotalCount  int            `json:"totalCount"`
	ByType      map[string]int `json:"byType"`
	TotalTokens int            `json:"totalTokens"`
}

func (s *MySQLStore) GetMemoryStats() (*MemoryStats, error) {
	type row struct {
		ContextType string
		Count       int
		Tokens      int
	}
	var rows []row
	err := s.db.Model(&models.Memory{}).
		Select("context_type, COUNT(*) as count, COALESCE(SUM(token_count), 0) as tokens").
		Group("context_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &MemoryStats{ByType: make(map[string]int)}
	for _, r := range rows {
		stats.ByType[r.ContextType] = r.Count
		stats.TotalCount += r.Count
		stats.TotalTokens += r.Tokens
	}
	return stats, nil
}

// ==================== Interaction log ====================

func (s *MySQLStore) AddInteraction(i *models.Interaction) error {
	return s.db.Create(i).Error
}

func (s *MySQLStore) SessionInteractions(sessionID string, limit int) ([]*models.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var interactions []*models.Interaction
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Limit(limit).
		Find(&interactions).Error
	return interactions, err
}

func (s *MySQLStore) CleanOldInteractions(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	return s.db.Where("created_at < ?", cutoff).Delete(&models.Interaction{}).Error
}

// ==================== Token usage ====================

func (s *MySQLStore) RecordTokenUsage(usageType string, inputTokens, outputTokens int, model string) error {
	return s.db.Create(&models.TokenUsage{
		Type:         usageType,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		Model:        model,
	}).Error
}

// TokenSummary aggregates usage over a window.
type TokenSummary struct {
	Count        int `json:"count"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (s *MySQLStore) tokenUsageSince(since time.Time) (*TokenSummary, error) {
	var summary TokenSummary
	err := s.db.Model(&models.TokenUsage{}).
		Select("COUNT(*) as count, COALESCE(SUM(input_tokens), 0) as input_tokens, COALESCE(SUM(output_tokens), 0) as output_tokens, COALESCE(SUM(total_tokens), 0) as total_tokens").
		Where("created_at >= ?", since).
		Scan(&summary).Error
	return &summary, err
}

func (s *MySQLStore) TodayTokenUsage() (*TokenSummary, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.tokenUsageSince(midnight)
}

func (s *MySQLStore) WeekTokenUsage() (*TokenSummary, error) {
	return s.tokenUsageSince(time.Now().AddDate(0, 0, -7))
}

func (s *MySQLStore) MonthTokenUsage() (*TokenSummary, error) {
	return s.tokenUsageSince(time.Now().AddDate(0, -1, 0))
}

// DailyTokenUsage is one day of the usage trend.
type DailyTokenUsage struct {
	Day         string `json:"day"`
	TotalTokens int    `json:"total_tokens"`
}

func (s *MySQLStore) DailyTokenTrend(days int) ([]*DailyTokenUsage, error) {
	if days <= 0 {
		days = 30
	}
	var rows []*DailyTokenUsage
	err := s.db.Model(&models.TokenUsage{}).
		Select("DATE(created_at) as day, COALESCE(SUM(total_tokens), 0) as total_tokens").
		Where("created_at >= ?", time.Now().AddDate(0, 0, -days)).
		Group("DATE(created_at)").
		Order("day ASC").
		Scan(&rows).Error
	return rows, err
}

// TypeSummary aggregates usage per interaction type.
type TypeSummary struct {
	Type        string `json:"type"`
	Count       int    `json:"count"`
	TotalTokens int    `json:"total_tokens"`
}

func (s *MySQLStore) TokenUsageByType() ([]*TypeSummary, error) {
	var rows []*TypeSummary
	err := s.db.Model(&models.TokenUsage{}).
		Select("type, COUNT(*) as count, COALESCE(SUM(total_tokens), 0) as total_tokens").
		Group("type").
		Scan(&rows).Error
	return rows, err
}

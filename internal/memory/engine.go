package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
	"ai-gamer/server/internal/models"
	"ai-gamer/server/internal/storage"
)

const (
	activeSlotSettingKey = "active_memory_id"
	foldQueueSize        = 64
	foldTimeout          = 2 * time.Minute
)

// Engine maintains the memory library and the single active-memory slot.
// Every recorded interaction is folded into the active memory through a
// serialized queue, so concurrent recordings never race on the slot.
type Engine struct {
	store Store
	slots SlotStore
	gen   Generator
	index Searcher
	pub   interfaces.EventPublisher
	cfg   config.MemoryConfig

	activeMu sync.RWMutex
	active   *models.Memory
	// slotGen counts direct slot mutations. A fold commits only when the
	// slot is still the one it read, so SetActive and Delete during a
	// fold are never clobbered by its result.
	slotGen uint64

	sessMu       sync.Mutex
	sessionID    string
	sessionStart time.Time
	interactions []*models.Interaction

	foldCh    chan *models.Interaction
	foldWG    sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine builds the engine, restores the active slot from the slot store
// (settings table as fallback) and starts the fold worker. slots, index and
// pub may be nil.
func NewEngine(store Store, slots SlotStore, gen Generator, index Searcher, pub interfaces.EventPublisher, cfg config.MemoryConfig) *Engine {
	e := &Engine{
		store:        store,
		slots:        slots,
		gen:          gen,
		index:        index,
		pub:          pub,
		cfg:          cfg,
		sessionID:    uuid.NewString(),
		sessionStart: time.Now(),
		foldCh:       make(chan *models.Interaction, foldQueueSize),
		done:         make(chan struct{}),
	}
	e.restoreSlot()
	go e.foldLoop()
	return e
}

// Close stops the fold worker after draining queued folds.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.Flush()
		close(e.done)
	})
}

// Flush blocks until every queued fold has completed.
func (e *Engine) Flush() {
	e.foldWG.Wait()
}

func (e *Engine) restoreSlot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id uint
	found := false
	if e.slots != nil {
		var err error
		id, found, err = e.slots.LoadActiveMemoryID(ctx)
		if err != nil {
			log.Printf("[Memory] 读取活跃记忆槽失败: %v", err)
		}
	}
	if !found {
		ok, err := e.store.GetSetting(activeSlotSettingKey, &id)
		if err != nil || !ok || id == 0 {
			return
		}
	}
	m, err := e.store.GetMemory(id)
	if err != nil || m == nil {
		log.Printf("[Memory] 活跃记忆 %d 不存在，清除槽位", id)
		e.persistSlot(0)
		return
	}
	e.active = m
	log.Printf("[Memory] 已恢复活跃记忆: %s (id=%d)", m.Title, m.ID)
}

func (e *Engine) persistSlot(id uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if e.slots != nil {
		err := e.slots.SaveActiveMemoryID(ctx, id)
		if err == nil {
			return
		}
		log.Printf("[Memory] 持久化活跃记忆槽失败: %v", err)
	}
	if err := e.store.SaveSetting(activeSlotSettingKey, id); err != nil {
		log.Printf("[Memory] 保存活跃记忆设置失败: %v", err)
	}
}

func (e *Engine) publish(kind interfaces.EventKind, payload interface{}) {
	if e.pub != nil {
		e.pub.Publish(interfaces.Event{Kind: kind, Payload: payload})
	}
}

// Active returns the memory currently in the slot, or nil.
func (e *Engine) Active() *models.Memory {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()
	return e.active
}

// Decorate appends the active memory to a system prompt. It never mutates
// engine state; with an empty slot the prompt passes through unchanged.
func (e *Engine) Decorate(base string) string {
	return decorate(base, e.Active())
}

// RecordRequest describes one finished interaction to fold into memory.
type RecordRequest struct {
	Kind     string
	Input    string
	Output   string
	HasImage bool
}

// Record appends the interaction to the session and the durable log, then
// queues it for folding into the active memory. It returns immediately; the
// fold runs on the engine's worker goroutine.
func (e *Engine) Record(req RecordRequest) {
	i := &models.Interaction{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Input:     req.Input,
		Output:    req.Output,
		HasImage:  req.HasImage,
		CreatedAt: time.Now(),
	}

	e.sessMu.Lock()
	i.SessionID = e.sessionID
	e.interactions = append(e.interactions, i)
	e.sessMu.Unlock()

	if err := e.store.AddInteraction(i); err != nil {
		log.Printf("[Memory] 保存交互记录失败: %v", err)
	}

	if !e.cfg.AutoSummarize || e.gen == nil {
		return
	}
	e.foldWG.Add(1)
	select {
	case e.foldCh <- i:
	case <-e.done:
		e.foldWG.Done()
	}
}

func (e *Engine) foldLoop() {
	for {
		select {
		case i := <-e.foldCh:
			e.foldOnce(i)
			e.foldWG.Done()
		case <-e.done:
			return
		}
	}
}

// foldOnce merges one interaction into the active memory, creating an
// auto-generated memory when the slot is empty. Runs only on the fold
// worker, one at a time.
func (e *Engine) foldOnce(i *models.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), foldTimeout)
	defer cancel()

	e.activeMu.RLock()
	active := e.active
	gen := e.slotGen
	e.activeMu.RUnlock()

	maxLen := e.cfg.MaxMemoryLength
	opts := interfaces.GenerateOptions{MaxTokens: 300, Temperature: 0.3}

	if active == nil {
		summary, err := e.gen.GenerateTextCommentary(ctx, initialFoldText(i), summarizeSystemPrompt(maxLen), opts)
		if err != nil {
			log.Printf("[Memory] 生成初始记忆失败: %v", err)
			return
		}
		if e.slotChanged(gen) {
			log.Println("[Memory] 记忆槽已被修改，放弃本次折叠")
			return
		}
		m := &models.Memory{
			Title:       "自动记忆 - " + time.Now().Format("2006-01-02 15:04"),
			Content:     summary,
			ContextType: models.ContextAutoGenerated,
			TokenCount:  estimateTokens(summary),
		}
		if err := e.store.CreateMemory(m); err != nil {
			log.Printf("[Memory] 保存自动记忆失败: %v", err)
			return
		}
		if !e.commitFold(gen, m) {
			log.Printf("[Memory] 记忆槽已被修改，自动记忆 %d 不设为活跃", m.ID)
			return
		}
		e.persistSlot(m.ID)
		e.indexMemory(m)
		log.Printf("[Memory] 已创建自动记忆 (id=%d)", m.ID)
		e.publish(interfaces.EventMemoryActive, m)
		return
	}

	summary, err := e.gen.GenerateTextCommentary(ctx, foldText(active.Content, i, maxLen), summarizeSystemPrompt(maxLen), opts)
	if err != nil {
		log.Printf("[Memory] 合并记忆失败: %v", err)
		return
	}
	updated := *active
	updated.Content = summary
	updated.TokenCount = estimateTokens(summary)
	if e.slotChanged(gen) {
		log.Println("[Memory] 记忆槽已被修改，放弃本次折叠")
		return
	}
	if err := e.store.UpdateMemory(&updated); err != nil {
		log.Printf("[Memory] 更新记忆失败: %v", err)
		return
	}
	if !e.commitFold(gen, &updated) {
		log.Println("[Memory] 记忆槽已被修改，放弃本次折叠")
		return
	}
	e.indexMemory(&updated)
	e.publish(interfaces.EventMemoryActive, &updated)
}

func (e *Engine) slotChanged(gen uint64) bool {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()
	return e.slotGen != gen
}

// commitFold installs the fold result unless the slot was mutated since the
// fold read it.
func (e *Engine) commitFold(gen uint64, m *models.Memory) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if e.slotGen != gen {
		return false
	}
	e.active = m
	return true
}

func (e *Engine) indexMemory(m *models.Memory) {
	if e.index == nil {
		return
	}
	snapshot := *m
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.index.Index(ctx, &snapshot); err != nil {
			log.Printf("[Memory] 向量索引失败: %v", err)
		}
	}()
}

// CreateManual creates a memory from user-supplied fields. The slot is not
// touched.
func (e *Engine) CreateManual(title, content, gameName string, tags []string) (*models.Memory, error) {
	m := &models.Memory{
		Title:       title,
		Content:     content,
		ContextType: models.ContextManual,
		GameName:    gameName,
		TokenCount:  estimateTokens(content),
	}
	m.SetTags(tags)
	if err := e.store.CreateMemory(m); err != nil {
		return nil, err
	}
	e.indexMemory(m)
	e.publish(interfaces.EventMemoryCreated, m)
	return m, nil
}

// MemoryUpdate carries the editable fields of a memory. Nil means unchanged.
type MemoryUpdate struct {
	Title    *string
	Content  *string
	GameName *string
	Tags     []string
}

// Update edits an existing memory. Editing the active memory refreshes the
// slot copy so subsequent decorations see the new content.
func (e *Engine) Update(id uint, upd MemoryUpdate) (*models.Memory, error) {
	m, err := e.store.GetMemory(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("memory %d not found", id)
	}
	if upd.Title != nil {
		m.Title = *upd.Title
	}
	if upd.Content != nil {
		m.Content = *upd.Content
		m.TokenCount = estimateTokens(m.Content)
	}
	if upd.GameName != nil {
		m.GameName = *upd.GameName
	}
	if upd.Tags != nil {
		m.SetTags(upd.Tags)
	}
	if err := e.store.UpdateMemory(m); err != nil {
		return nil, err
	}

	e.activeMu.Lock()
	if e.active != nil && e.active.ID == m.ID {
		e.active = m
		e.slotGen++
	}
	e.activeMu.Unlock()

	e.indexMemory(m)
	e.publish(interfaces.EventMemoryUpdated, m)
	return m, nil
}

// Delete removes a memory. Deleting the active memory empties the slot.
func (e *Engine) Delete(id uint) error {
	if err := e.store.DeleteMemory(id); err != nil {
		return err
	}

	cleared := false
	e.activeMu.Lock()
	if e.active != nil && e.active.ID == id {
		e.active = nil
		e.slotGen++
		cleared = true
	}
	e.activeMu.Unlock()
	if cleared {
		e.persistSlot(0)
		e.publish(interfaces.EventMemoryActive, nil)
	}

	if e.index != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.index.Remove(ctx, id); err != nil {
			log.Printf("[Memory] 删除向量索引失败: %v", err)
		}
	}
	e.publish(interfaces.EventMemoryDeleted, map[string]uint{"id": id})
	return nil
}

// SetActive places a memory into the slot. The slot holds one memory; when
// several ids are given the first wins. An empty list clears the slot.
func (e *Engine) SetActive(ids []uint) (*models.Memory, error) {
	if len(ids) == 0 {
		e.ClearActive()
		return nil, nil
	}
	id := ids[0]
	m, err := e.store.GetMemory(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("memory %d not found", id)
	}
	if err := e.store.IncrementMemoryUsage(id); err != nil {
		log.Printf("[Memory] 更新使用计数失败: %v", err)
	}
	now := time.Now()
	m.UsageCount++
	m.LastUsedAt = &now

	e.activeMu.Lock()
	e.active = m
	e.slotGen++
	e.activeMu.Unlock()
	e.persistSlot(id)
	e.publish(interfaces.EventMemoryActive, m)
	return m, nil
}

// ClearActive empties the slot.
func (e *Engine) ClearActive() {
	e.activeMu.Lock()
	e.active = nil
	e.slotGen++
	e.activeMu.Unlock()
	e.persistSlot(0)
	e.publish(interfaces.EventMemoryActive, nil)
}

// SessionInfo describes the current session.
type SessionInfo struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	Interactions int       `json:"interactions"`
}

// Session returns a snapshot of the current session.
func (e *Engine) Session() SessionInfo {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return SessionInfo{ID: e.sessionID, StartedAt: e.sessionStart, Interactions: len(e.interactions)}
}

// NewSession finishes the current session and starts a fresh one. Queued
// folds from the old session complete first, so nothing recorded is lost.
func (e *Engine) NewSession() SessionInfo {
	e.Flush()

	e.sessMu.Lock()
	e.sessionID = uuid.NewString()
	e.sessionStart = time.Now()
	e.interactions = nil
	info := SessionInfo{ID: e.sessionID, StartedAt: e.sessionStart}
	e.sessMu.Unlock()

	log.Printf("[Memory] 新会话已开始: %s", info.ID)
	e.publish(interfaces.EventSessionStarted, info)
	return info
}

// GenerateOptions controls GenerateFromSession.
type GenerateOptions struct {
	Title        string
	GameName     string
	Tags         []string
	ClearSession bool
}

// GenerateFromSession summarizes the whole current session into a new
// session-type memory. The active slot is untouched.
func (e *Engine) GenerateFromSession(ctx context.Context, opts GenerateOptions) (*models.Memory, error) {
	if e.gen == nil {
		return nil, interfaces.ErrNotConfigured
	}
	e.Flush()

	e.sessMu.Lock()
	interactions := make([]*models.Interaction, len(e.interactions))
	copy(interactions, e.interactions)
	e.sessMu.Unlock()

	if len(interactions) == 0 {
		return nil, fmt.Errorf("当前会话没有可总结的内容")
	}

	summary, err := e.gen.GenerateTextCommentary(ctx, sessionSummaryText(interactions),
		summarizeSystemPrompt(e.cfg.MaxMemoryLength), interfaces.GenerateOptions{MaxTokens: 500, Temperature: 0.3})
	if err != nil {
		return nil, err
	}

	title := opts.Title
	if title == "" {
		title = "会话记忆 - " + time.Now().Format("2006-01-02 15:04")
	}
	m := &models.Memory{
		Title:       title,
		Content:     summary,
		ContextType: models.ContextSession,
		GameName:    opts.GameName,
		TokenCount:  estimateTokens(summary),
	}
	m.SetTags(opts.Tags)
	if err := e.store.CreateMemory(m); err != nil {
		return nil, err
	}
	e.indexMemory(m)
	e.publish(interfaces.EventMemoryCreated, m)

	if opts.ClearSession {
		e.NewSession()
	}
	return m, nil
}

// List returns recent memories, newest first.
func (e *Engine) List(limit int) ([]*models.Memory, error) {
	return e.store.ListMemories(limit)
}

// ByType returns memories of one context type.
func (e *Engine) ByType(contextType string) ([]*models.Memory, error) {
	return e.store.MemoriesByType(contextType)
}

// ByGame returns memories tagged with one game.
func (e *Engine) ByGame(gameName string) ([]*models.Memory, error) {
	return e.store.MemoriesByGame(gameName)
}

// Get returns one memory, or nil when it does not exist.
func (e *Engine) Get(id uint) (*models.Memory, error) {
	return e.store.GetMemory(id)
}

// Search looks memories up semantically through the vector index, falling
// back to a keyword scan when no index is wired or it returns nothing.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = e.cfg.SearchLimit
	}
	if limit <= 0 {
		limit = 10
	}
	if e.index != nil {
		ids, err := e.index.Search(ctx, query, limit)
		if err != nil {
			log.Printf("[Memory] 向量检索失败，回退到关键词: %v", err)
		} else if len(ids) > 0 {
			results := make([]*models.Memory, 0, len(ids))
			for _, id := range ids {
				m, err := e.store.GetMemory(id)
				if err != nil || m == nil {
					continue
				}
				results = append(results, m)
			}
			if len(results) > 0 {
				return results, nil
			}
		}
	}
	return e.store.SearchMemories(query, limit)
}

// Stats aggregates the memory library plus slot and session state.
func (e *Engine) Stats() (*storage.MemoryStats, error) {
	return e.store.GetMemoryStats()
}

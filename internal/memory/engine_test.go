package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
	"ai-gamer/server/internal/models"
	"ai-gamer/server/internal/storage"
)

type fakeStore struct {
	mu           sync.Mutex
	nextID       uint
	memories     map[uint]*models.Memory
	interactions []*models.Interaction
	settings     map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: make(map[uint]*models.Memory), settings: make(map[string]string)}
}

func (s *fakeStore) CreateMemory(m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	clone := *m
	s.memories[m.ID] = &clone
	return nil
}

func (s *fakeStore) UpdateMemory(m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[m.ID]; !ok {
		return fmt.Errorf("memory %d not found", m.ID)
	}
	clone := *m
	s.memories[m.ID] = &clone
	return nil
}

func (s *fakeStore) GetMemory(id uint) (*models.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, nil
	}
	clone := *m
	return &clone, nil
}

func (s *fakeStore) DeleteMemory(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, id)
	return nil
}

func (s *fakeStore) ListMemories(limit int) ([]*models.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Memory
	for _, m := range s.memories {
		clone := *m
		out = append(out, &clone)
	}
	return out, nil
}

func (s *fakeStore) MemoriesByType(contextType string) ([]*models.Memory, error) {
	all, _ := s.ListMemories(0)
	var out []*models.Memory
	for _, m := range all {
		if m.ContextType == contextType {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) MemoriesByGame(gameName string) ([]*models.Memory, error) {
	all, _ := s.ListMemories(0)
	var out []*models.Memory
	for _, m := range all {
		if m.GameName == gameName {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) SearchMemories(keyword string, limit int) ([]*models.Memory, error) {
	all, _ := s.ListMemories(0)
	var out []*models.Memory
	for _, m := range all {
		if strings.Contains(m.Title, keyword) || strings.Contains(m.Content, keyword) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) IncrementMemoryUsage(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memories[id]; ok {
		m.UsageCount++
	}
	return nil
}

func (s *fakeStore) GetMemoryStats() (*storage.MemoryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &storage.MemoryStats{TotalCount: len(s.memories), ByType: map[string]int{}}, nil
}

func (s *fakeStore) AddInteraction(i *models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, i)
	return nil
}

func (s *fakeStore) SaveSetting(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = string(data)
	return nil
}

func (s *fakeStore) GetSetting(key string, out interface{}) (bool, error) {
	s.mu.Lock()
	raw, ok := s.settings[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(raw), out)
}

func (s *fakeStore) memoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

type fakeGen struct {
	mu    sync.Mutex
	calls int
	fail  bool
	block chan struct{}
}

func (g *fakeGen) GenerateTextCommentary(ctx context.Context, text, systemPrompt string, opts interfaces.GenerateOptions) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	fail := g.fail
	block := g.block
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	if fail {
		return "", fmt.Errorf("generation unavailable")
	}
	return fmt.Sprintf("摘要#%d", n), nil
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (p *capturingPublisher) Publish(ev interfaces.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturingPublisher) kinds() []interfaces.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interfaces.EventKind
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func testConfig() config.MemoryConfig {
	return config.MemoryConfig{MaxMemoryLength: 500, AutoSummarize: true, SearchLimit: 10}
}

func newTestEngine(t *testing.T, store *fakeStore) (*Engine, *fakeGen, *capturingPublisher) {
	t.Helper()
	gen := &fakeGen{}
	pub := &capturingPublisher{}
	e := NewEngine(store, nil, gen, nil, pub, testConfig())
	t.Cleanup(e.Close)
	return e, gen, pub
}

func TestRecordCreatesAutoMemory(t *testing.T) {
	store := newFakeStore()
	e, _, _ := newTestEngine(t, store)

	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "主角进入了新地图"})
	e.Flush()

	active := e.Active()
	if active == nil {
		t.Fatal("expected an active memory after first recording")
	}
	if active.ContextType != models.ContextAutoGenerated {
		t.Fatalf("context type = %q, want %q", active.ContextType, models.ContextAutoGenerated)
	}
	if store.memoryCount() != 1 {
		t.Fatalf("memory count = %d, want 1", store.memoryCount())
	}
}

func TestRecordFoldsIntoSameMemory(t *testing.T) {
	store := newFakeStore()
	e, gen, _ := newTestEngine(t, store)

	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "第一段解说"})
	e.Flush()
	first := e.Active()

	e.Record(RecordRequest{Kind: models.KindTextCommentary, Input: "观众提问", Output: "第二段解说"})
	e.Flush()
	second := e.Active()

	if store.memoryCount() != 1 {
		t.Fatalf("memory count = %d, want 1", store.memoryCount())
	}
	if first.ID != second.ID {
		t.Fatalf("fold created a new memory: %d vs %d", first.ID, second.ID)
	}
	if second.Content == first.Content {
		t.Fatal("fold did not update the memory content")
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.calls)
	}
}

func TestConcurrentRecordsCreateOneMemory(t *testing.T) {
	store := newFakeStore()
	e, _, _ := newTestEngine(t, store)

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e.Record(RecordRequest{Kind: models.KindCommentary, Output: fmt.Sprintf("解说 %d", n)})
		}(n)
	}
	wg.Wait()
	e.Flush()

	if store.memoryCount() != 1 {
		t.Fatalf("memory count = %d, want 1", store.memoryCount())
	}
	if len(store.interactions) != 10 {
		t.Fatalf("interaction count = %d, want 10", len(store.interactions))
	}
}

func TestFoldFailureLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	e, gen, _ := newTestEngine(t, store)
	gen.fail = true

	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "解说"})
	e.Flush()

	if e.Active() != nil {
		t.Fatal("failed fold must not populate the slot")
	}
	if store.memoryCount() != 0 {
		t.Fatalf("memory count = %d, want 0", store.memoryCount())
	}
	if len(store.interactions) != 1 {
		t.Fatal("interaction log must keep the recording even when the fold fails")
	}
}

func TestDecorate(t *testing.T) {
	store := newFakeStore()
	e, _, _ := newTestEngine(t, store)

	base := "你是一个游戏解说"
	if got := e.Decorate(base); got != base {
		t.Fatalf("empty slot must pass the prompt through, got %q", got)
	}

	m, err := e.CreateManual("魂类攻略", "Boss第二阶段会召唤小怪", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SetActive([]uint{m.ID}); err != nil {
		t.Fatal(err)
	}

	decorated := e.Decorate(base)
	if !strings.Contains(decorated, "魂类攻略") || !strings.Contains(decorated, "Boss第二阶段会召唤小怪") {
		t.Fatalf("decorated prompt missing memory: %q", decorated)
	}
	if !strings.HasPrefix(decorated, base) {
		t.Fatal("decorated prompt must start with the base prompt")
	}
}

func TestSetActiveFirstIDWins(t *testing.T) {
	store := newFakeStore()
	e, _, _ := newTestEngine(t, store)

	a, _ := e.CreateManual("一号", "内容甲", "", nil)
	b, _ := e.CreateManual("二号", "内容乙", "", nil)

	m, err := e.SetActive([]uint{a.ID, b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != a.ID {
		t.Fatalf("active id = %d, want %d", m.ID, a.ID)
	}
	if m.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", m.UsageCount)
	}

	if _, err := e.SetActive(nil); err != nil {
		t.Fatal(err)
	}
	if e.Active() != nil {
		t.Fatal("empty id list must clear the slot")
	}
}

func TestDeleteActiveMemoryClearsSlot(t *testing.T) {
	store := newFakeStore()
	e, _, pub := newTestEngine(t, store)

	m, _ := e.CreateManual("临时", "稍后删除", "", nil)
	if _, err := e.SetActive([]uint{m.ID}); err != nil {
		t.Fatal(err)
	}
	if err := e.Delete(m.ID); err != nil {
		t.Fatal(err)
	}
	if e.Active() != nil {
		t.Fatal("deleting the active memory must empty the slot")
	}

	var sawDeleted bool
	for _, k := range pub.kinds() {
		if k == interfaces.EventMemoryDeleted {
			sawDeleted = true
		}
	}
	if !sawDeleted {
		t.Fatal("expected a memory:deleted event")
	}
}

func waitForGenCalls(t *testing.T, g *fakeGen, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for g.callCount() < n {
		select {
		case <-deadline:
			t.Fatalf("generator calls = %d, want %d", g.callCount(), n)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSetActiveDuringFoldKeepsSelection(t *testing.T) {
	store := newFakeStore()
	e, gen, _ := newTestEngine(t, store)

	a, _ := e.CreateManual("记忆甲", "内容甲", "", nil)
	b, _ := e.CreateManual("记忆乙", "内容乙", "", nil)
	if _, err := e.SetActive([]uint{a.ID}); err != nil {
		t.Fatal(err)
	}

	gen.mu.Lock()
	gen.block = make(chan struct{})
	gen.mu.Unlock()

	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "一段解说"})
	waitForGenCalls(t, gen, 1)

	// The user picks another memory while the fold is still generating.
	if _, err := e.SetActive([]uint{b.ID}); err != nil {
		t.Fatal(err)
	}
	close(gen.block)
	e.Flush()

	active := e.Active()
	if active == nil || active.ID != b.ID {
		t.Fatalf("active = %+v, want the selected memory %d", active, b.ID)
	}
	if active.Content != "内容乙" {
		t.Fatalf("content = %q, the stale fold must not overwrite the selection", active.Content)
	}
}

func TestDeleteDuringFoldKeepsSlotEmpty(t *testing.T) {
	store := newFakeStore()
	e, gen, _ := newTestEngine(t, store)

	a, _ := e.CreateManual("临时", "待删", "", nil)
	if _, err := e.SetActive([]uint{a.ID}); err != nil {
		t.Fatal(err)
	}

	gen.mu.Lock()
	gen.block = make(chan struct{})
	gen.mu.Unlock()

	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "一段解说"})
	waitForGenCalls(t, gen, 1)

	if err := e.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	close(gen.block)
	e.Flush()

	if e.Active() != nil {
		t.Fatal("the stale fold must not resurrect a deleted memory into the slot")
	}
}

func TestSlotSurvivesRestart(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGen{}
	e := NewEngine(store, nil, gen, nil, nil, testConfig())
	m, _ := e.CreateManual("持久", "跨重启的记忆", "", nil)
	if _, err := e.SetActive([]uint{m.ID}); err != nil {
		t.Fatal(err)
	}
	e.Close()

	restarted := NewEngine(store, nil, gen, nil, nil, testConfig())
	defer restarted.Close()
	active := restarted.Active()
	if active == nil || active.ID != m.ID {
		t.Fatalf("active after restart = %v, want id %d", active, m.ID)
	}
}

func TestGenerateFromSession(t *testing.T) {
	store := newFakeStore()
	e, _, _ := newTestEngine(t, store)

	manual, _ := e.CreateManual("固定", "手动记忆", "", nil)
	if _, err := e.SetActive([]uint{manual.ID}); err != nil {
		t.Fatal(err)
	}

	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "一路推进"})
	e.Record(RecordRequest{Kind: models.KindChatReply, Input: "加油", Output: "谢谢观众"})
	e.Flush()

	before := e.Active()
	m, err := e.GenerateFromSession(context.Background(), GenerateOptions{Title: "今晚直播", GameName: "艾尔登法环"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ContextType != models.ContextSession {
		t.Fatalf("context type = %q, want %q", m.ContextType, models.ContextSession)
	}
	if m.GameName != "艾尔登法环" {
		t.Fatalf("game name = %q", m.GameName)
	}
	if after := e.Active(); after == nil || after.ID != before.ID {
		t.Fatal("session summary must not replace the active slot")
	}
}

func TestGenerateFromSessionEmpty(t *testing.T) {
	store := newFakeStore()
	e, _, _ := newTestEngine(t, store)
	if _, err := e.GenerateFromSession(context.Background(), GenerateOptions{}); err == nil {
		t.Fatal("expected an error for an empty session")
	}
}

func TestNewSessionResets(t *testing.T) {
	store := newFakeStore()
	e, _, pub := newTestEngine(t, store)

	old := e.Session()
	e.Record(RecordRequest{Kind: models.KindCommentary, Output: "解说"})
	e.Flush()

	info := e.NewSession()
	if info.ID == old.ID {
		t.Fatal("new session must get a fresh id")
	}
	if got := e.Session(); got.Interactions != 0 {
		t.Fatalf("interactions after reset = %d, want 0", got.Interactions)
	}

	var sawStarted bool
	for _, k := range pub.kinds() {
		if k == interfaces.EventSessionStarted {
			sawStarted = true
		}
	}
	if !sawStarted {
		t.Fatal("expected a memory:sessionStarted event")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Fatalf("empty text = %d tokens, want 0", got)
	}
	cjk := estimateTokens("这是一段中文解说内容")
	latin := estimateTokens("this is text")
	if cjk <= latin {
		t.Fatalf("CJK estimate %d should exceed latin estimate %d for similar lengths", cjk, latin)
	}
	// Fractions round up, so short text never counts as zero tokens.
	if got := estimateTokens("abc"); got != 1 {
		t.Fatalf("short latin text = %d tokens, want 1", got)
	}
	if got := estimateTokens("一"); got != 1 {
		t.Fatalf("single CJK char = %d tokens, want 1", got)
	}
}

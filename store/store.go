// Package store owns a learner's conversation state. Every mutation goes
// through a Store method; persisted fields are written through a Persister
// after each change.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/model"
)

type EventKind string

const (
	EventMessage          EventKind = "message"
	EventCorrection       EventKind = "correction"
	EventTyping           EventKind = "typing"
	EventCorrectionsPanel EventKind = "corrections_panel"
	EventCleared          EventKind = "cleared"
	EventReset            EventKind = "reset"
	EventSelections       EventKind = "selections"
	EventVocabulary       EventKind = "vocabulary"
	EventHistory          EventKind = "history"
)

// Event 状态变更通知，只携带与该变更相关的字段
type Event struct {
	Kind       EventKind
	Message    *model.Message
	Correction *model.Correction
	Typing     bool
	Visible    bool
}

// View is a read-only copy of the live conversation.
type View struct {
	Selections         model.Selections   `json:"selections"`
	Messages           []model.Message    `json:"messages"`
	Corrections        []model.Correction `json:"corrections"`
	Typing             bool               `json:"isTyping"`
	CorrectionsVisible bool               `json:"isCorrectionsVisible"`
	VocabularyCount    int                `json:"vocabularyCount"`
	HistoryCount       int                `json:"historyCount"`
}

type Store struct {
	mu        sync.RWMutex
	name      string
	persister Persister
	log       *zap.Logger
	now       func() time.Time
	newID     func() string

	selections         model.Selections
	messages           []model.Message
	corrections        []model.Correction
	vocabulary         []model.VocabularyItem
	history            []model.ConversationHistory
	startedAt          *time.Time
	correctionsVisible bool
	typing             bool

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New returns an empty store that keeps everything in memory.
func New(opts ...Option) *Store {
	s := &Store{
		name:               RecordName(""),
		persister:          NewMemoryPersister(),
		log:                zap.NewNop(),
		now:                time.Now,
		newID:              func() string { return uuid.New().String() },
		correctionsVisible: true,
		subs:               make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "store"), zap.String("record", s.name))
	return s
}

// Open loads the named record from p, or starts from defaults when the record
// does not exist yet.
func Open(ctx context.Context, name string, p Persister, opts ...Option) (*Store, error) {
	s := New(opts...)
	s.name = name
	s.persister = p
	s.log = s.log.With(zap.String("record", name))

	snap, err := p.Load(ctx, name)
	if err == ErrNotFound {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s.selections = snap.Selections
	s.vocabulary = snap.Vocabulary
	s.history = snap.History
	s.correctionsVisible = snap.CorrectionsVisible
	return s, nil
}

func (s *Store) Name() string { return s.name }

// Subscribe registers fn for change events. fn runs on the mutating
// goroutine after the store lock is released.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// persistLocked 写入持久化字段，调用方需持有写锁
func (s *Store) persistLocked() {
	snap := Snapshot{
		Selections:         s.selections,
		Vocabulary:         s.vocabulary,
		History:            s.history,
		CorrectionsVisible: s.correctionsVisible,
	}
	if err := s.persister.Save(context.Background(), s.name, snap); err != nil {
		s.log.Error("persist learner state failed", zap.Error(err))
	}
}

// ---- selections ----

func (s *Store) Selections() model.Selections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selections
}

func (s *Store) Select(sel model.Selections) {
	s.mu.Lock()
	s.selections = sel
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventSelections})
}

func (s *Store) SetLanguage(language string) {
	s.mu.Lock()
	s.selections.Language = language
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventSelections})
}

func (s *Store) SetDifficulty(d model.Difficulty) {
	s.mu.Lock()
	s.selections.Difficulty = d
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventSelections})
}

func (s *Store) SetScenario(sc model.Scenario) {
	s.mu.Lock()
	s.selections.Scenario = &sc
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventSelections})
}

// ---- live conversation ----

// AppendMessage adds m at the tail. Messages are never reordered or deduplicated.
func (s *Store) AppendMessage(m model.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, cloneMessage(m))
	s.mu.Unlock()
	s.emit(Event{Kind: EventMessage, Message: &m})
}

// RecordCorrection adds c at the tail. The caller guarantees c.MessageID exists.
func (s *Store) RecordCorrection(c model.Correction) {
	s.mu.Lock()
	s.corrections = append(s.corrections, c)
	s.mu.Unlock()
	s.emit(Event{Kind: EventCorrection, Correction: &c})
}

func (s *Store) SetTyping(typing bool) {
	s.mu.Lock()
	changed := s.typing != typing
	s.typing = typing
	s.mu.Unlock()
	if changed {
		s.emit(Event{Kind: EventTyping, Typing: typing})
	}
}

func (s *Store) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

func (s *Store) ToggleCorrections() bool {
	s.mu.Lock()
	s.correctionsVisible = !s.correctionsVisible
	visible := s.correctionsVisible
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventCorrectionsPanel, Visible: visible})
	return visible
}

func (s *Store) CorrectionsVisible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.correctionsVisible
}

func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

func (s *Store) Corrections() []model.Correction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Correction(nil), s.corrections...)
}

func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Selections:         s.selections,
		Messages:           cloneMessages(s.messages),
		Corrections:        append([]model.Correction{}, s.corrections...),
		Typing:             s.typing,
		CorrectionsVisible: s.correctionsVisible,
		VocabularyCount:    len(s.vocabulary),
		HistoryCount:       len(s.history),
	}
}

// ClearConversation empties the live conversation. Vocabulary, history and
// selections are kept.
func (s *Store) ClearConversation() {
	s.mu.Lock()
	s.messages = nil
	s.corrections = nil
	s.typing = false
	s.mu.Unlock()
	s.emit(Event{Kind: EventCleared})
}

// ResetAll clears the conversation, selections, vocabulary and the start
// marker. History is kept.
func (s *Store) ResetAll() {
	s.mu.Lock()
	s.selections = model.Selections{}
	s.messages = nil
	s.corrections = nil
	s.vocabulary = nil
	s.startedAt = nil
	s.correctionsVisible = true
	s.typing = false
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventReset})
}

// ---- vocabulary ----

// UpsertVocabulary inserts v unless an item with the same word exists.
func (s *Store) UpsertVocabulary(v model.VocabularyItem) bool {
	s.mu.Lock()
	for _, existing := range s.vocabulary {
		if existing.Word == v.Word {
			s.mu.Unlock()
			return false
		}
	}
	s.vocabulary = append(s.vocabulary, v)
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventVocabulary})
	return true
}

func (s *Store) RemoveVocabulary(id string) bool {
	s.mu.Lock()
	idx := -1
	for i, v := range s.vocabulary {
		if v.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.vocabulary = append(s.vocabulary[:idx:idx], s.vocabulary[idx+1:]...)
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventVocabulary})
	return true
}

func (s *Store) Vocabulary() []model.VocabularyItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.VocabularyItem(nil), s.vocabulary...)
}

// ---- history ----

// StartConversation 记录对话开始时间
func (s *Store) StartConversation() {
	s.mu.Lock()
	now := s.now()
	s.startedAt = &now
	s.mu.Unlock()
}

func (s *Store) StartedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt == nil {
		return time.Time{}, false
	}
	return *s.startedAt, true
}

// SaveToHistory archives the live conversation at the front of the history.
// It does nothing when the selections are incomplete or there are no messages.
func (s *Store) SaveToHistory() (model.ConversationHistory, bool) {
	s.mu.Lock()
	if !s.selections.Complete() || len(s.messages) == 0 {
		s.mu.Unlock()
		return model.ConversationHistory{}, false
	}

	end := s.now()
	start := end
	if s.startedAt != nil {
		start = *s.startedAt
	}
	duration := int64(end.Sub(start) / time.Second)
	if duration < 0 {
		duration = 0
	}

	entry := model.ConversationHistory{
		ID:           "conv_" + s.newID(),
		Language:     s.selections.Language,
		Difficulty:   s.selections.Difficulty,
		Scenario:     *s.selections.Scenario,
		Messages:     cloneMessages(s.messages),
		Corrections:  append([]model.Correction{}, s.corrections...),
		StartedAt:    start,
		EndedAt:      end,
		MessageCount: len(s.messages),
		Duration:     duration,
	}

	s.history = append([]model.ConversationHistory{entry}, s.history...)
	s.startedAt = nil
	s.persistLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventHistory})
	return entry, true
}

func (s *Store) History() []model.ConversationHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationHistory, len(s.history))
	for i, h := range s.history {
		out[i] = cloneHistory(h)
	}
	return out
}

func (s *Store) HistoryEntry(id string) (model.ConversationHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.history {
		if h.ID == id {
			return cloneHistory(h), true
		}
	}
	return model.ConversationHistory{}, false
}

func (s *Store) DeleteHistory(id string) bool {
	s.mu.Lock()
	kept := s.history[:0:0]
	for _, h := range s.history {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	removed := len(kept) != len(s.history)
	if removed {
		s.history = kept
		s.persistLocked()
	}
	s.mu.Unlock()

	if removed {
		s.emit(Event{Kind: EventHistory})
	}
	return removed
}

func (s *Store) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.persistLocked()
	s.mu.Unlock()
	s.emit(Event{Kind: EventHistory})
}

// 读取返回的消息不与 store 共享 Corrections 底层数组
func cloneMessage(m model.Message) model.Message {
	if m.Corrections != nil {
		m.Corrections = append([]model.Correction{}, m.Corrections...)
	}
	return m
}

func cloneMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

func cloneHistory(h model.ConversationHistory) model.ConversationHistory {
	h.Messages = cloneMessages(h.Messages)
	h.Corrections = append([]model.Correction{}, h.Corrections...)
	return h
}
